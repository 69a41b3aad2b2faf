package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrChannelClosed is returned by Subscribe on a channel the registry has
// already dropped. Callers fetch a fresh channel and retry.
var ErrChannelClosed = errors.New("channel closed")

// Options carries the variant strategies a registry wires into a channel.
type Options struct {
	Metadata      map[string]any
	Authenticator Authenticator // private and presence
	Members       *Members      // presence
	Cache         *MessageCache // cache
}

// Channel is a named broadcast topic. Its variant is fixed at construction
// by the strategies it was given.
type Channel struct {
	logger   *zap.Logger
	name     string
	typ      Type
	appID    string
	metadata map[string]any

	auth    Authenticator
	members *Members
	cache   *MessageCache

	// mu serializes membership changes and broadcasts so that every
	// subscriber observes broadcasts in the same order.
	mu     sync.RWMutex
	conns  map[string]conn.Connection
	closed bool
}

func New(logger *zap.Logger, appID, name string, opts Options) *Channel {
	return &Channel{
		logger:   logger.With(zap.String("channel", name)),
		name:     name,
		typ:      TypeOf(name),
		appID:    appID,
		metadata: opts.Metadata,
		auth:     opts.Authenticator,
		members:  opts.Members,
		cache:    opts.Cache,
		conns:    make(map[string]conn.Connection),
	}
}

func (ch *Channel) Name() string             { return ch.name }
func (ch *Channel) Type() Type               { return ch.typ }
func (ch *Channel) AppID() string            { return ch.appID }
func (ch *Channel) Metadata() map[string]any { return ch.metadata }

// Subscribe admits c. Auth-gated channels verify first and nothing is
// mutated when verification fails.
func (ch *Channel) Subscribe(ctx context.Context, c conn.Connection, auth, data string) error {
	if err := ch.Verify(ctx, c, auth, data); err != nil {
		return err
	}
	parsed := ch.parseData(data)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}

	ch.conns[c.ID()] = c
	if parsed != nil {
		c.Set(cnst.AttrChannel+ch.name, parsed)
	}

	reply := &Message{Event: cnst.EventSubscriptionSucceeded, Channel: ch.name, Data: "{}"}
	if ch.members != nil {
		userID, info := presenceIdentity(data)
		if userID != "" {
			c.Set(cnst.AttrUserID, userID)
			added, displaced := ch.members.Add(userID, c.ID(), info)
			if displaced != "" {
				ch.broadcastLocked(&Message{
					Event:   cnst.EventMemberRemoved,
					Channel: ch.name,
					Data:    encodeString(map[string]string{"user_id": displaced}),
				}, c.ID())
			}
			if added {
				ch.broadcastLocked(&Message{
					Event:   cnst.EventMemberAdded,
					Channel: ch.name,
					Data:    encodeString(map[string]any{"user_id": userID, "user_info": info}),
				}, c.ID())
			}
		} else {
			ch.logger.Warn("presence subscription without user_id", zap.String("connection_id", c.ID()))
		}
		reply.Data = map[string]any{"presence": ch.members.Snapshot()}
	}
	ch.send(c, reply)

	if ch.cache != nil {
		ch.replayLocked(c)
	}
	return nil
}

// Verify checks auth for auth-gated channels and is a no-op otherwise.
func (ch *Channel) Verify(ctx context.Context, c conn.Connection, auth, data string) error {
	if ch.auth == nil {
		return nil
	}
	return ch.auth.Verify(ctx, c.ID(), ch.name, auth, data)
}

// Unsubscribe removes c and reports whether it was subscribed. Presence
// channels announce a member's departure once its last connection leaves.
func (ch *Channel) Unsubscribe(c conn.Connection) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.conns[c.ID()]; !ok {
		return false
	}
	delete(ch.conns, c.ID())
	c.Delete(cnst.AttrChannel + ch.name)

	if ch.members != nil {
		if userID, last := ch.members.Remove(c.ID()); last {
			ch.broadcastLocked(&Message{
				Event:   cnst.EventMemberRemoved,
				Channel: ch.name,
				Data:    encodeString(map[string]string{"user_id": userID}),
			}, "")
		}
	}
	return true
}

// Broadcast sends msg to every subscriber except exceptID. Cache channels
// retain non-internal messages first.
func (ch *Channel) Broadcast(msg *Message, exceptID string) {
	if msg.Channel == "" {
		msg.Channel = ch.name
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.cache != nil {
		ch.cache.Record(msg)
	}
	ch.broadcastLocked(msg, exceptID)
}

func (ch *Channel) broadcastLocked(msg *Message, exceptID string) {
	payload, err := msg.Encode()
	if err != nil {
		ch.logger.Error("failed to encode broadcast", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	for id, c := range ch.conns {
		if id == exceptID {
			continue
		}
		if err := c.Send(payload); err != nil {
			ch.logger.Debug("dropping frame for connection", zap.String("connection_id", id), zap.Error(err))
		}
	}
}

func (ch *Channel) replayLocked(c conn.Connection) {
	if ch.cache.Len() == 0 {
		ch.send(c, &Message{Event: cnst.EventCacheMiss, Channel: ch.name})
		return
	}
	for _, m := range ch.cache.Messages() {
		ch.send(c, &Message{Event: m.Event, Data: m.Data, Channel: ch.name})
	}
}

func (ch *Channel) send(c conn.Connection, msg *Message) {
	payload, err := msg.Encode()
	if err != nil {
		ch.logger.Error("failed to encode message", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	if err := c.Send(payload); err != nil {
		ch.logger.Debug("dropping frame for connection", zap.String("connection_id", c.ID()), zap.Error(err))
	}
}

// parseData decodes subscription data. Anything but a JSON object is logged
// and treated as empty.
func (ch *Channel) parseData(data string) map[string]any {
	if data == "" {
		return nil
	}
	if !gjson.Valid(data) {
		ch.logger.Warn("ignoring malformed channel_data")
		return nil
	}
	parsed, ok := gjson.Parse(data).Value().(map[string]any)
	if !ok {
		ch.logger.Warn("ignoring non-object channel_data")
		return nil
	}
	return parsed
}

func presenceIdentity(data string) (string, any) {
	if data == "" || !gjson.Valid(data) {
		return "", nil
	}
	root := gjson.Parse(data)
	return root.Get("user_id").String(), root.Get("user_info").Value()
}

// closeIfEmpty marks an empty channel closed so that no later Subscribe can
// land on an instance the registry no longer holds.
func (ch *Channel) closeIfEmpty() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.conns) > 0 {
		return false
	}
	ch.closed = true
	return true
}

func (ch *Channel) HasConnection(id string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.conns[id]
	return ok
}

func (ch *Channel) ConnectionCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.conns)
}

func (ch *Channel) Connections() []conn.Connection {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]conn.Connection, 0, len(ch.conns))
	for _, c := range ch.conns {
		out = append(out, c)
	}
	return out
}

// Members returns user id to user info for presence channels, nil otherwise.
func (ch *Channel) Members() map[string]any {
	if ch.members == nil {
		return nil
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.members.Hash()
}

func (ch *Channel) MemberCount() int {
	if ch.members == nil {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.members.Count()
}

func (ch *Channel) PresenceSnapshot() PresenceData {
	if ch.members == nil {
		return PresenceData{IDs: []string{}, Hash: map[string]any{}}
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.members.Snapshot()
}

func (ch *Channel) CachedMessages() []CachedMessage {
	if ch.cache == nil {
		return nil
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.cache.Messages()
}
