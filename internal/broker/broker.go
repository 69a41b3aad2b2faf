package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/bridge"
	"github.com/amoylab/pushgate/internal/channel"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/amoylab/pushgate/internal/membership"
	"github.com/amoylab/pushgate/internal/ratelimit"
	"github.com/amoylab/pushgate/pkg/trace"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder receives connection and traffic events for metrics.
type Recorder interface {
	ConnectionOpened(appID string)
	ConnectionClosed(appID string)
	MessageReceived(appID string, size int)
	MessageSent(appID string, size int)
	RateLimited(appID, bucket string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened(string)     {}
func (nopRecorder) ConnectionClosed(string)     {}
func (nopRecorder) MessageReceived(string, int) {}
func (nopRecorder) MessageSent(string, int)     {}
func (nopRecorder) RateLimited(string, string)  {}

// Broker routes client frames and backend publishes through channels,
// membership, the limiter and the bridge.
type Broker struct {
	logger   *zap.Logger
	nodeID   string
	topic    string
	activity int // seconds
	maxCache int

	apps     app.Manager
	members  *membership.Registry
	limiter  ratelimit.Limiter
	bridge   bridge.Bridge
	recorder Recorder
	tracer   *trace.Builder

	mu         sync.Mutex
	registries map[string]*channel.Registry
}

type Option func(*Broker)

func WithRecorder(r Recorder) Option {
	return func(b *Broker) { b.recorder = r }
}

// WithNodeID overrides the generated node id.
func WithNodeID(id string) Option {
	return func(b *Broker) { b.nodeID = id }
}

func New(logger *zap.Logger, cfg *config.BrokerConfig, apps app.Manager, limiter ratelimit.Limiter, br bridge.Bridge, opts ...Option) *Broker {
	b := &Broker{
		logger:     logger.Named("broker"),
		nodeID:     uuid.NewString(),
		topic:      cfg.Bridge.Channel,
		activity:   int(cfg.ActivityTimeout.Seconds()),
		maxCache:   cfg.Channels.MaxCachedMessages,
		apps:       apps,
		members:    membership.NewRegistry(logger),
		limiter:    limiter,
		bridge:     br,
		recorder:   nopRecorder{},
		tracer:     trace.Tracer(cnst.TraceBroker),
		registries: make(map[string]*channel.Registry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to the replication topic.
func (b *Broker) Start(ctx context.Context) error {
	b.logger.Info("broker starting", zap.String("node_id", b.nodeID), zap.String("topic", b.topic))
	return b.bridge.Subscribe(ctx, b.topic, b.handleRemote)
}

func (b *Broker) NodeID() string { return b.nodeID }

func (b *Broker) Apps() app.Manager { return b.apps }

func (b *Broker) Limiter() ratelimit.Limiter { return b.limiter }

func (b *Broker) Members() *membership.Registry { return b.members }

// registry returns the channel registry of appID, creating it on first use.
func (b *Broker) registry(appID string) *channel.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.registries[appID]
	if !ok {
		r = channel.NewRegistry(b.logger, appID, b.apps, b.maxCache)
		b.registries[appID] = r
	}
	return r
}

func (b *Broker) existingRegistry(appID string) (*channel.Registry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.registries[appID]
	return r, ok
}

// Connect admits c under a and greets it. On error the caller closes the
// socket with the error's code.
func (b *Broker) Connect(_ context.Context, c conn.Connection, a *app.Application) error {
	c.Set(cnst.AttrAppID, a.ID)
	if err := b.members.AddConnection(c, a.MaxConnections); err != nil {
		return err
	}
	b.recorder.ConnectionOpened(a.ID)

	b.send(c, &channel.Message{
		Event: cnst.EventConnectionEstablished,
		Data:  encodeString(map[string]any{"socket_id": c.ID(), "activity_timeout": b.activity}),
	})
	b.logger.Debug("connection established", zap.String("app_id", a.ID), zap.String("socket_id", c.ID()))
	return nil
}

// Disconnect removes c from every channel and index before returning.
func (b *Broker) Disconnect(ctx context.Context, c conn.Connection) {
	appID := conn.AppID(c)
	removed, admitted := b.members.RemoveConnection(c)

	reg, ok := b.existingRegistry(appID)
	for _, ch := range removed {
		ch.Unsubscribe(c)
		if ok {
			reg.RemoveIfEmpty(ch.Name())
		}
	}

	if admitted {
		b.limiter.ClearFrontendPoints(ctx, appID, c.ID())
		b.recorder.ConnectionClosed(appID)
		b.logger.Debug("connection closed", zap.String("app_id", appID), zap.String("socket_id", c.ID()), zap.Int("channels", len(removed)))
	}
}

// RecordSent accounts a frame the transport wrote to a client.
func (b *Broker) RecordSent(appID string, size int) {
	b.members.RecordWsMessageSent(appID, size)
	b.recorder.MessageSent(appID, size)
}

func (b *Broker) send(c conn.Connection, msg *channel.Message) {
	payload, err := msg.Encode()
	if err != nil {
		b.logger.Error("failed to encode message", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	b.sendRaw(c, payload)
}

func (b *Broker) sendRaw(c conn.Connection, payload []byte) {
	if err := c.Send(payload); err != nil {
		b.logger.Debug("dropping frame for connection", zap.String("socket_id", c.ID()), zap.Error(err))
	}
}

func encodeString(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(out)
}
