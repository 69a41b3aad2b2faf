package bridge

import (
	"context"
	"fmt"

	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/internal/common/redisx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Handler receives a replicated payload and the channel it arrived on.
type Handler func(channel string, payload []byte)

// Bridge replicates opaque payloads between broker processes.
type Bridge interface {
	// Publish sends payload on channel. A disconnected bridge queues it.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers h for an exact channel. Handlers accumulate.
	Subscribe(ctx context.Context, channel string, h Handler) error
	// PSubscribe registers h for every channel matching a glob pattern.
	PSubscribe(ctx context.Context, pattern string, h Handler) error
	// Fatal yields an error once the bridge gave up reconnecting.
	Fatal() <-chan error
	Close() error
}

// Observer is notified of publish outcomes and queue growth.
type Observer interface {
	BridgePublished(err error)
	BridgeQueueSize(n int)
}

type nopObserver struct{}

func (nopObserver) BridgePublished(error) {}
func (nopObserver) BridgeQueueSize(int)   {}

type options struct {
	observer Observer
	clock    clockwork.Clock
}

type Option func(*options)

func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

func WithClock(c clockwork.Clock) Option {
	return func(opts *options) { opts.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{observer: nopObserver{}, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewBridge creates the bridge selected by configuration.
func NewBridge(ctx context.Context, logger *zap.Logger, cfg *config.BridgeConfig, redisCfg *config.RedisConfig, opts ...Option) (Bridge, error) {
	logger.Info("Initializing broadcast bridge", zap.String("driver", cfg.Driver))
	switch cfg.Driver {
	case config.DriverLocal:
		return NewLocalBridge(logger, opts...), nil
	case config.DriverRedis:
		pub := redisx.NewClient(redisCfg)
		sub := redisx.NewClient(redisCfg)
		return NewRedisBridge(ctx, logger, cfg, pub, sub, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported bridge driver: %s", cfg.Driver)
	}
}
