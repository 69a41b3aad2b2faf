package channel

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/tidwall/gjson"
)

// ErrMalformedMessage is returned by ParseMessage for frames that are not a
// JSON object with a string event.
var ErrMalformedMessage = errors.New("malformed message")

// Message is the wire envelope exchanged with clients.
type Message struct {
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
	Channel string `json:"channel,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// ParseMessage decodes a client frame. A data field holding a JSON-encoded
// object or array is decoded into that structure; other strings are kept.
func ParseMessage(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedMessage
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrMalformedMessage
	}
	event := root.Get("event")
	if event.Type != gjson.String || event.Str == "" {
		return nil, ErrMalformedMessage
	}

	msg := &Message{
		Event:   event.Str,
		Channel: root.Get("channel").String(),
		UserID:  root.Get("user_id").String(),
	}
	if data := root.Get("data"); data.Exists() {
		msg.Data = decodeData(data)
	}
	return msg, nil
}

func decodeData(data gjson.Result) any {
	if data.Type != gjson.String {
		return data.Value()
	}
	if gjson.Valid(data.Str) {
		if inner := gjson.Parse(data.Str); inner.IsObject() || inner.IsArray() {
			return inner.Value()
		}
	}
	return data.Str
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DataString returns data as a string, JSON-encoding structured values.
func (m *Message) DataString() string {
	switch v := m.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// IsInternal reports whether the event uses a reserved protocol prefix.
func (m *Message) IsInternal() bool {
	return IsInternalEvent(m.Event)
}

func IsInternalEvent(event string) bool {
	return strings.HasPrefix(event, cnst.PrefixPusher) || strings.HasPrefix(event, cnst.PrefixPusherInternal)
}

// IsClientEvent reports whether the event was originated by a client.
func IsClientEvent(event string) bool {
	return strings.HasPrefix(event, cnst.PrefixClient)
}

// encodeString JSON-encodes v and returns it as a string, the shape Pusher
// uses for nested data payloads.
func encodeString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
