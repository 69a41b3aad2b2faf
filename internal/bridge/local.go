package bridge

import (
	"context"
	"regexp"
	"sync"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/pkg/utils"
	"go.uber.org/zap"
)

type patternHandler struct {
	re *regexp.Regexp
	h  Handler
}

// LocalBridge delivers in process. It serves single-node deployments.
type LocalBridge struct {
	logger   *zap.Logger
	observer Observer
	fatal    chan error

	mu       sync.RWMutex
	closed   bool
	handlers map[string][]Handler
	patterns []patternHandler
}

var _ Bridge = (*LocalBridge)(nil)

func NewLocalBridge(logger *zap.Logger, opts ...Option) *LocalBridge {
	o := buildOptions(opts)
	return &LocalBridge{
		logger:   logger.Named("bridge.local"),
		observer: o.observer,
		fatal:    make(chan error),
		handlers: make(map[string][]Handler),
	}
}

// Publish runs matching handlers synchronously on the caller's goroutine.
func (b *LocalBridge) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return cnst.ErrBridgeClosed
	}
	targets := append([]Handler(nil), b.handlers[channel]...)
	for _, p := range b.patterns {
		if p.re.MatchString(channel) {
			targets = append(targets, p.h)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(channel, payload)
	}
	b.observer.BridgePublished(nil)
	return nil
}

func (b *LocalBridge) Subscribe(_ context.Context, channel string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cnst.ErrBridgeClosed
	}
	b.handlers[channel] = append(b.handlers[channel], h)
	return nil
}

func (b *LocalBridge) PSubscribe(_ context.Context, pattern string, h Handler) error {
	re, err := utils.GlobToRegexp(pattern)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cnst.ErrBridgeClosed
	}
	b.patterns = append(b.patterns, patternHandler{re: re, h: h})
	return nil
}

// Fatal never fires for the local bridge.
func (b *LocalBridge) Fatal() <-chan error { return b.fatal }

func (b *LocalBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string][]Handler)
	b.patterns = nil
	return nil
}
