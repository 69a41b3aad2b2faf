package redisx

import (
	"context"
	"fmt"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// Options maps the shared redis configuration onto go-redis options.
func Options(cfg *config.RedisConfig) *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:    utils.SplitByMultipleDelimiters(cfg.Addr, ";", ","),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		opts.DB = cfg.DB
	}
	return opts
}

// NewClient builds a client without contacting the server.
func NewClient(cfg *config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(Options(cfg))
}

// Connect builds a client and pings it once.
func Connect(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	client := NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
