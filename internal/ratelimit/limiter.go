package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Window is the length of one fixed token-bucket window.
const Window = time.Second

// Result is the outcome of a consumption attempt. A denial is a value, not
// an error.
type Result struct {
	CanContinue     bool
	RemainingPoints int   // -1 when unlimited
	MsBeforeNext    int64 // until the bucket refills, set on denial
	TotalCapacity   int
}

// Limiter gates backend publishes, client events and read requests.
type Limiter interface {
	ConsumeBackendEventPoints(ctx context.Context, points int, a *app.Application) Result
	ConsumeFrontendEventPoints(ctx context.Context, points int, a *app.Application, connectionID string) Result
	ConsumeReadRequestPoints(ctx context.Context, points int, a *app.Application) Result
	// ClearFrontendPoints forgets the bucket of a closed connection.
	ClearFrontendPoints(ctx context.Context, appID, connectionID string)
	// Disconnect releases held resources. Safe to call more than once.
	Disconnect() error
}

func unlimited() Result {
	return Result{CanContinue: true, RemainingPoints: -1, TotalCapacity: -1}
}

func backendKey(prefix, appID string) string {
	return fmt.Sprintf("%s:%s:backend:events", prefix, appID)
}

func readKey(prefix, appID string) string {
	return fmt.Sprintf("%s:%s:backend:read_requests", prefix, appID)
}

func frontendKey(prefix, appID, connectionID string) string {
	return fmt.Sprintf("%s:%s:frontend:events:%s", prefix, appID, connectionID)
}

// msUntil rounds up so that a denial never reports zero wait.
func msUntil(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// NewLimiter creates the limiter selected by configuration. The redis driver
// requires client.
func NewLimiter(logger *zap.Logger, cfg *config.RateLimiterConfig, client redis.UniversalClient, clock clockwork.Clock) (Limiter, error) {
	logger.Info("Initializing rate limiter", zap.String("driver", cfg.Driver))
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryLimiter(logger, cfg.Prefix, clock), nil
	case config.DriverRedis:
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter needs a redis client")
		}
		return NewRedisLimiter(logger, cfg.Prefix, client, clock), nil
	default:
		return nil, fmt.Errorf("unsupported rate limiter driver: %s", cfg.Driver)
	}
}
