package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/channel"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Event is one backend event of a batch publish.
type Event struct {
	Channel  string `json:"channel"`
	Name     string `json:"name"`
	Data     any    `json:"data"`
	SocketID string `json:"socket_id,omitempty"`
}

// envelope is what travels over the bridge between nodes.
type envelope struct {
	Node    string           `json:"node"`
	AppID   string           `json:"app_id"`
	Channel string           `json:"channel"`
	Except  string           `json:"except,omitempty"`
	Message *channel.Message `json:"message"`
}

// Publish broadcasts a backend event on every named channel, skipping the
// socket exceptSocketID, and replicates it to the other nodes. Channels
// nobody is subscribed to on this node are not created.
func (b *Broker) Publish(ctx context.Context, a *app.Application, channels []string, event string, data any, exceptSocketID string) error {
	for _, name := range channels {
		if err := channel.ValidateName(name); err != nil {
			return err
		}
	}

	scope := b.tracer.Start(ctx, cnst.SpanPublish).WithAttrs(
		attribute.String("app_id", a.ID),
		attribute.String("event", event),
		attribute.Int("channels", len(channels)),
	)
	defer scope.End()

	var errs []error
	for _, name := range channels {
		if err := b.publishOne(scope.Ctx, a.ID, name, event, data, exceptSocketID); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	scope.Fail(err)
	return err
}

// PublishBatch publishes independent events, each on its own channel.
func (b *Broker) PublishBatch(ctx context.Context, a *app.Application, events []Event) error {
	for _, ev := range events {
		if err := channel.ValidateName(ev.Channel); err != nil {
			return err
		}
	}

	scope := b.tracer.Start(ctx, cnst.SpanBatchPublish).WithAttrs(
		attribute.String("app_id", a.ID),
		attribute.Int("events", len(events)),
	)
	defer scope.End()

	var errs []error
	for _, ev := range events {
		if err := b.publishOne(scope.Ctx, a.ID, ev.Channel, ev.Name, ev.Data, ev.SocketID); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	scope.Fail(err)
	return err
}

func (b *Broker) publishOne(ctx context.Context, appID, name, event string, data any, except string) error {
	msg := &channel.Message{Event: event, Data: data, Channel: name}
	if reg, ok := b.existingRegistry(appID); ok {
		if ch, ok := reg.Get(name); ok {
			ch.Broadcast(msg, except)
		}
	}
	return b.replicate(ctx, appID, name, except, msg)
}

func (b *Broker) replicate(ctx context.Context, appID, name, except string, msg *channel.Message) error {
	payload, err := json.Marshal(envelope{Node: b.nodeID, AppID: appID, Channel: name, Except: except, Message: msg})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.bridge.Publish(ctx, b.topic, payload); err != nil {
		return fmt.Errorf("replicate %s: %w", name, err)
	}
	return nil
}

// handleRemote delivers a broadcast replicated by another node. It never
// replicates again.
func (b *Broker) handleRemote(_ string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Message == nil {
		b.logger.Warn("dropping malformed bridge envelope", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	if env.Node == b.nodeID {
		return
	}
	reg, ok := b.existingRegistry(env.AppID)
	if !ok {
		return
	}
	ch, ok := reg.Get(env.Channel)
	if !ok {
		return
	}
	env.Message.Channel = env.Channel
	ch.Broadcast(env.Message, env.Except)
}
