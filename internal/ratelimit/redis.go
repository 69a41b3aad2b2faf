package ratelimit

import (
	"context"
	"sync"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// consumeScript refills the bucket when its window elapsed or its capacity
// changed, then deducts points if enough remain. The hash expires after two
// idle windows.
// ARGV: [1]=points, [2]=max, [3]=window_ms, [4]=now_ms
// Returns {allowed, remaining, ms_until_reset}.
var consumeScript = redis.NewScript(`
local points = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'remaining', 'last_reset', 'max')
local remaining = tonumber(state[1])
local last_reset = tonumber(state[2])
local stored_max = tonumber(state[3])
if remaining == nil or last_reset == nil or stored_max ~= max or now - last_reset >= window then
  remaining = max
  last_reset = now
end
local allowed = 0
if remaining >= points then
  remaining = remaining - points
  allowed = 1
end
redis.call('HSET', KEYS[1], 'remaining', remaining, 'last_reset', last_reset, 'max', max, 'window', window)
redis.call('PEXPIRE', KEYS[1], window * 2)
return {allowed, remaining, last_reset + window - now}
`)

// RedisLimiter shares buckets between broker instances through Redis. Any
// Redis failure admits the request.
type RedisLimiter struct {
	logger *zap.Logger
	prefix string
	client redis.UniversalClient
	clock  clockwork.Clock

	closeOnce sync.Once
	closeErr  error
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(logger *zap.Logger, prefix string, client redis.UniversalClient, clock clockwork.Clock) *RedisLimiter {
	return &RedisLimiter{
		logger: logger.Named("ratelimit.redis"),
		prefix: prefix,
		client: client,
		clock:  clock,
	}
}

func (l *RedisLimiter) ConsumeBackendEventPoints(ctx context.Context, points int, a *app.Application) Result {
	return l.consume(ctx, backendKey(l.prefix, a.ID), a.RateLimits.Backend, points)
}

func (l *RedisLimiter) ConsumeFrontendEventPoints(ctx context.Context, points int, a *app.Application, connectionID string) Result {
	return l.consume(ctx, frontendKey(l.prefix, a.ID, connectionID), a.RateLimits.Frontend, points)
}

func (l *RedisLimiter) ConsumeReadRequestPoints(ctx context.Context, points int, a *app.Application) Result {
	return l.consume(ctx, readKey(l.prefix, a.ID), a.RateLimits.ReadRequests, points)
}

func (l *RedisLimiter) ClearFrontendPoints(ctx context.Context, appID, connectionID string) {
	if err := l.client.Del(ctx, frontendKey(l.prefix, appID, connectionID)).Err(); err != nil {
		l.logger.Debug("failed to clear frontend bucket", zap.String("connection_id", connectionID), zap.Error(err))
	}
}

// Disconnect closes the redis client once.
func (l *RedisLimiter) Disconnect() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.client.Close()
	})
	return l.closeErr
}

func (l *RedisLimiter) consume(ctx context.Context, key string, max, points int) Result {
	if max < 0 {
		return unlimited()
	}
	now := l.clock.Now().UnixMilli()
	res, err := consumeScript.Run(ctx, l.client, []string{key},
		points, max, Window.Milliseconds(), now,
	).Int64Slice()
	if err != nil || len(res) != 3 {
		l.logger.Warn("rate limiter backend unavailable, admitting request",
			zap.String("key", key), zap.Error(err))
		return Result{CanContinue: true, RemainingPoints: max, TotalCapacity: max}
	}

	result := Result{
		CanContinue:     res[0] == 1,
		RemainingPoints: int(res[1]),
		TotalCapacity:   max,
	}
	if !result.CanContinue {
		result.MsBeforeNext = res[2]
		if result.MsBeforeNext < 1 {
			result.MsBeforeNext = 1
		}
	}
	return result
}
