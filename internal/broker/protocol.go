package broker

import (
	"context"
	"errors"
	"net/http"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/channel"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/errorx"
	"github.com/amoylab/pushgate/internal/conn"
	"go.uber.org/zap"
)

// subscribeAttempts bounds retries when a subscribe races with the removal
// of an empty channel.
const subscribeAttempts = 3

// HandleMessage processes one client frame.
func (b *Broker) HandleMessage(ctx context.Context, c conn.Connection, raw []byte) {
	appID := conn.AppID(c)
	b.members.RecordWsMessageReceived(appID, len(raw))
	b.recorder.MessageReceived(appID, len(raw))

	msg, err := channel.ParseMessage(raw)
	if err != nil {
		b.logger.Debug("ignoring malformed frame", zap.String("socket_id", c.ID()), zap.Error(err))
		return
	}

	switch {
	case msg.Event == cnst.EventPing:
		b.send(c, &channel.Message{Event: cnst.EventPong, Data: "{}"})
	case msg.Event == cnst.EventSubscribe:
		b.subscribe(ctx, c, appID, msg)
	case msg.Event == cnst.EventUnsubscribe:
		b.unsubscribe(c, appID, msg)
	case channel.IsClientEvent(msg.Event):
		a, err := b.apps.FindByID(ctx, appID)
		if err != nil {
			b.logger.Warn("client event for unknown app", zap.String("app_id", appID), zap.Error(err))
			return
		}
		b.clientEvent(ctx, c, a, msg)
	default:
		b.logger.Debug("ignoring unsupported event", zap.String("event", msg.Event), zap.String("socket_id", c.ID()))
	}
}

func (b *Broker) subscribe(ctx context.Context, c conn.Connection, appID string, msg *channel.Message) {
	fields, _ := msg.Data.(map[string]any)
	name := stringField(fields, "channel")
	auth := stringField(fields, "auth")
	data := stringField(fields, "channel_data")

	reg := b.registry(appID)
	for attempt := 0; attempt < subscribeAttempts; attempt++ {
		ch, err := reg.GetOrCreate(name, nil)
		if err != nil {
			b.subscriptionError(c, name, "InvalidChannel", err.Error(), http.StatusBadRequest)
			return
		}

		err = ch.Subscribe(ctx, c, auth, data)
		switch {
		case errors.Is(err, channel.ErrChannelClosed):
			continue
		case err != nil:
			b.logger.Debug("subscription rejected", zap.String("channel", name), zap.String("socket_id", c.ID()), zap.Error(err))
			reg.RemoveIfEmpty(name)
			b.subscriptionError(c, name, "AuthError", err.Error(), http.StatusUnauthorized)
			return
		}
		b.members.Subscribe(c, ch)
		return
	}
	b.logger.Warn("subscribe kept racing channel removal", zap.String("channel", name), zap.String("socket_id", c.ID()))
}

func (b *Broker) unsubscribe(c conn.Connection, appID string, msg *channel.Message) {
	fields, _ := msg.Data.(map[string]any)
	name := stringField(fields, "channel")

	reg, ok := b.existingRegistry(appID)
	if !ok {
		return
	}
	ch, ok := reg.Get(name)
	if !ok {
		return
	}
	ch.Unsubscribe(c)
	b.members.Unsubscribe(c, ch)
	reg.RemoveIfEmpty(name)
}

func (b *Broker) subscriptionError(c conn.Connection, name, typ, reason string, status int) {
	b.send(c, &channel.Message{
		Event:   cnst.EventSubscriptionError,
		Channel: name,
		Data:    map[string]any{"type": typ, "error": reason, "status": status},
	})
}

func (b *Broker) clientEvent(ctx context.Context, c conn.Connection, a *app.Application, msg *channel.Message) {
	if !a.EnableClientMessages {
		b.sendRaw(c, errorx.ErrClientEventsDisabled.Envelope())
		return
	}
	typ := channel.TypeOf(msg.Channel)
	if typ != channel.Private && typ != channel.Presence {
		b.sendRaw(c, errorx.ErrClientEventChannel.Envelope())
		return
	}

	reg, ok := b.existingRegistry(a.ID)
	if !ok {
		b.sendRaw(c, errorx.ErrClientNotSubscribed.Envelope())
		return
	}
	ch, ok := reg.Get(msg.Channel)
	if !ok || !b.members.IsSubscribed(c, msg.Channel) {
		b.sendRaw(c, errorx.ErrClientNotSubscribed.Envelope())
		return
	}

	if res := b.limiter.ConsumeFrontendEventPoints(ctx, 1, a, c.ID()); !res.CanContinue {
		b.recorder.RateLimited(a.ID, "frontend")
		b.sendRaw(c, errorx.RateLimitExceeded(res.MsBeforeNext).Envelope())
		return
	}

	out := &channel.Message{Event: msg.Event, Data: msg.Data, Channel: msg.Channel}
	if typ == channel.Presence {
		out.UserID = conn.UserID(c)
	}
	ch.Broadcast(out, c.ID())
	if err := b.replicate(ctx, a.ID, msg.Channel, c.ID(), out); err != nil {
		b.logger.Warn("failed to replicate client event", zap.String("channel", msg.Channel), zap.Error(err))
	}
}

// stringField reads a string field, re-encoding structured values such as
// channel_data sent as an object.
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return encodeString(v)
	}
}
