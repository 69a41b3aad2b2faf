package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type queued struct {
	channel string
	payload []byte
}

// RedisBridge replicates over Redis pub/sub. Publishing and subscribing use
// separate clients, each recovering on its own: the publisher queues while
// down and flushes in order once a ping succeeds, the subscriber resumes
// receiving and go-redis restores its subscriptions. Either one giving up
// after ReconnectTimeout reports cnst.ErrBridgeTimeout on Fatal.
type RedisBridge struct {
	logger   *zap.Logger
	cfg      config.BridgeConfig
	clock    clockwork.Clock
	observer Observer
	pub      redis.UniversalClient
	sub      redis.UniversalClient
	ps       *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan error
	wake   chan struct{}

	// mu serializes publishes with queue flushing so queued payloads keep
	// their order relative to new ones.
	mu        sync.Mutex
	connected bool
	closed    bool
	queue     []queued

	hmu      sync.RWMutex
	handlers map[string][]Handler
	patterns map[string][]Handler

	closeOnce sync.Once
	closeErr  error
}

var _ Bridge = (*RedisBridge)(nil)

// NewRedisBridge starts the publisher and subscriber loops. An unreachable
// server is not an error: the bridge starts degraded and keeps retrying.
func NewRedisBridge(ctx context.Context, logger *zap.Logger, cfg *config.BridgeConfig, pub, sub redis.UniversalClient, opts ...Option) *RedisBridge {
	o := buildOptions(opts)
	bctx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		logger:   logger.Named("bridge.redis"),
		cfg:      *cfg,
		clock:    o.clock,
		observer: o.observer,
		pub:      pub,
		sub:      sub,
		ctx:      bctx,
		cancel:   cancel,
		fatal:    make(chan error, 1),
		wake:     make(chan struct{}, 1),
		handlers: make(map[string][]Handler),
		patterns: make(map[string][]Handler),
	}

	if err := pub.Ping(ctx).Err(); err != nil {
		b.logger.Warn("redis unreachable, publishes will be queued", zap.Error(err))
		b.wake <- struct{}{}
	} else {
		b.connected = true
	}
	b.ps = sub.Subscribe(bctx)

	b.wg.Add(2)
	go b.publisherLoop()
	go b.subscriberLoop()
	return b
}

func (b *RedisBridge) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return cnst.ErrBridgeClosed
	}
	if !b.connected {
		b.queue = append(b.queue, queued{channel: channel, payload: payload})
		b.observer.BridgeQueueSize(len(b.queue))
		return nil
	}

	err := b.pub.Publish(ctx, channel, payload).Err()
	b.observer.BridgePublished(err)
	if err != nil {
		if ctx.Err() == nil {
			b.connected = false
			b.logger.Warn("publisher connection lost", zap.Error(err))
			select {
			case b.wake <- struct{}{}:
			default:
			}
		}
		return fmt.Errorf("bridge publish: %w", err)
	}
	return nil
}

func (b *RedisBridge) Subscribe(ctx context.Context, channel string, h Handler) error {
	b.hmu.Lock()
	first := len(b.handlers[channel]) == 0
	b.handlers[channel] = append(b.handlers[channel], h)
	b.hmu.Unlock()

	if first {
		// A failure here still registers the channel with go-redis, which
		// subscribes again once the connection is back.
		if err := b.ps.Subscribe(ctx, channel); err != nil {
			b.logger.Warn("subscribe deferred until reconnect", zap.String("channel", channel), zap.Error(err))
		}
	}
	return nil
}

func (b *RedisBridge) PSubscribe(ctx context.Context, pattern string, h Handler) error {
	b.hmu.Lock()
	first := len(b.patterns[pattern]) == 0
	b.patterns[pattern] = append(b.patterns[pattern], h)
	b.hmu.Unlock()

	if first {
		if err := b.ps.PSubscribe(ctx, pattern); err != nil {
			b.logger.Warn("psubscribe deferred until reconnect", zap.String("pattern", pattern), zap.Error(err))
		}
	}
	return nil
}

func (b *RedisBridge) Fatal() <-chan error { return b.fatal }

// Connected reports whether the publisher is currently up.
func (b *RedisBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// QueueLen is the number of publishes waiting for a reconnect.
func (b *RedisBridge) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops both loops and closes both clients. Queued payloads are dropped.
func (b *RedisBridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		if n := len(b.queue); n > 0 {
			b.logger.Warn("dropping queued publishes on close", zap.Int("count", n))
		}
		b.queue = nil
		b.mu.Unlock()

		b.cancel()
		_ = b.ps.Close()
		b.wg.Wait()
		b.closeErr = errors.Join(b.pub.Close(), b.sub.Close())
	})
	return b.closeErr
}

func (b *RedisBridge) publisherLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
		}
		if !b.reconnect("publisher", b.pub, b.flush) {
			return
		}
	}
}

// flush drains the queue in order and marks the publisher connected. It
// stops at the first failure, keeping the rest queued.
func (b *RedisBridge) flush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) > 0 {
		q := b.queue[0]
		err := b.pub.Publish(b.ctx, q.channel, q.payload).Err()
		b.observer.BridgePublished(err)
		if err != nil {
			return false
		}
		b.queue = b.queue[1:]
	}
	b.queue = nil
	b.connected = true
	b.observer.BridgeQueueSize(0)
	return true
}

func (b *RedisBridge) subscriberLoop() {
	defer b.wg.Done()
	for {
		msg, err := b.ps.Receive(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn("subscriber connection lost", zap.Error(err))
			if !b.reconnect("subscriber", b.sub, func() bool { return true }) {
				return
			}
			continue
		}
		if m, ok := msg.(*redis.Message); ok {
			b.dispatch(m)
		}
	}
}

func (b *RedisBridge) dispatch(m *redis.Message) {
	b.hmu.RLock()
	var targets []Handler
	if m.Pattern != "" {
		targets = append(targets, b.patterns[m.Pattern]...)
	} else {
		targets = append(targets, b.handlers[m.Channel]...)
	}
	b.hmu.RUnlock()

	payload := []byte(m.Payload)
	for _, h := range targets {
		h(m.Channel, payload)
	}
}

// reconnect retries ping with a fixed backoff until up returns true. It
// reports false when the bridge is closing or gave up, in which case the
// fatal error has been raised.
func (b *RedisBridge) reconnect(role string, client redis.UniversalClient, up func() bool) bool {
	start := b.clock.Now()
	for attempt := 1; ; attempt++ {
		select {
		case <-b.ctx.Done():
			return false
		case <-b.clock.After(b.cfg.ReconnectBackoff):
		}

		if err := client.Ping(b.ctx).Err(); err == nil && up() {
			b.logger.Info("redis connection restored", zap.String("role", role), zap.Int("attempts", attempt))
			return true
		}

		if b.clock.Since(start) >= b.cfg.ReconnectTimeout {
			b.logger.Error("giving up on redis", zap.String("role", role), zap.Duration("after", b.clock.Since(start)))
			select {
			case b.fatal <- cnst.ErrBridgeTimeout:
			default:
			}
			return false
		}
	}
}
