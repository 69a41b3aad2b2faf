package redisx

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts := Options(&config.RedisConfig{ClusterType: cnst.RedisClusterTypeSentinel, Addr: "a:1; b:2,c:3", MasterName: "m", DB: 2})
	assert.Equal(t, []string{"a:1", "b:2", "c:3"}, opts.Addrs)
	assert.Equal(t, "m", opts.MasterName)
	assert.Equal(t, 2, opts.DB)

	opts = Options(&config.RedisConfig{ClusterType: cnst.RedisClusterTypeCluster, Addr: "a:1", MasterName: "m", DB: 2})
	assert.Equal(t, "", opts.MasterName)
	assert.Equal(t, 0, opts.DB)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), &config.RedisConfig{ClusterType: cnst.RedisClusterTypeSingle, Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := Connect(context.Background(), &config.RedisConfig{ClusterType: cnst.RedisClusterTypeSingle, Addr: addr})
	assert.Error(t, err)
}
