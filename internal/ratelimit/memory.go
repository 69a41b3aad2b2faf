package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type bucket struct {
	remaining int
	lastReset time.Time
	max       int
}

// MemoryLimiter keeps buckets in process memory. It only limits a single
// broker instance.
type MemoryLimiter struct {
	logger *zap.Logger
	prefix string
	clock  clockwork.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(logger *zap.Logger, prefix string, clock clockwork.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		logger:  logger.Named("ratelimit.memory"),
		prefix:  prefix,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (m *MemoryLimiter) ConsumeBackendEventPoints(_ context.Context, points int, a *app.Application) Result {
	return m.consume(backendKey(m.prefix, a.ID), a.RateLimits.Backend, points)
}

func (m *MemoryLimiter) ConsumeFrontendEventPoints(_ context.Context, points int, a *app.Application, connectionID string) Result {
	return m.consume(frontendKey(m.prefix, a.ID, connectionID), a.RateLimits.Frontend, points)
}

func (m *MemoryLimiter) ConsumeReadRequestPoints(_ context.Context, points int, a *app.Application) Result {
	return m.consume(readKey(m.prefix, a.ID), a.RateLimits.ReadRequests, points)
}

func (m *MemoryLimiter) ClearFrontendPoints(_ context.Context, appID, connectionID string) {
	m.mu.Lock()
	delete(m.buckets, frontendKey(m.prefix, appID, connectionID))
	m.mu.Unlock()
}

func (m *MemoryLimiter) Disconnect() error {
	m.mu.Lock()
	m.buckets = make(map[string]*bucket)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLimiter) consume(key string, max, points int) Result {
	if max < 0 {
		return unlimited()
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.max != max || now.Sub(b.lastReset) >= Window {
		b = &bucket{remaining: max, lastReset: now, max: max}
		m.buckets[key] = b
	}
	if b.remaining >= points {
		b.remaining -= points
		return Result{CanContinue: true, RemainingPoints: b.remaining, TotalCapacity: max}
	}
	return Result{
		CanContinue:     false,
		RemainingPoints: b.remaining,
		MsBeforeNext:    msUntil(b.lastReset.Add(Window).Sub(now)),
		TotalCapacity:   max,
	}
}
