package channel

import (
	"time"

	"github.com/amoylab/pushgate/internal/common/cnst"
)

// CachedMessage is a broadcast retained for replay to later subscribers.
type CachedMessage struct {
	Event    string    `json:"event"`
	Data     any       `json:"data,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	CachedAt time.Time `json:"cachedAt"`
}

// MessageCache is a bounded FIFO of cached messages. Callers serialize access.
type MessageCache struct {
	max      int
	messages []CachedMessage
	now      func() time.Time
}

func NewMessageCache(capacity int, now func() time.Time) *MessageCache {
	if capacity <= 0 {
		capacity = cnst.DefaultMaxCachedMessages
	}
	if now == nil {
		now = time.Now
	}
	return &MessageCache{max: capacity, now: now}
}

// Record keeps msg unless it is a protocol event, evicting the oldest
// entries beyond capacity. It reports whether msg was kept.
func (c *MessageCache) Record(msg *Message) bool {
	if msg.IsInternal() {
		return false
	}
	c.messages = append(c.messages, CachedMessage{
		Event:    msg.Event,
		Data:     msg.Data,
		Channel:  msg.Channel,
		CachedAt: c.now(),
	})
	if over := len(c.messages) - c.max; over > 0 {
		c.messages = append(c.messages[:0:0], c.messages[over:]...)
	}
	return true
}

// Messages returns the retained messages, oldest first.
func (c *MessageCache) Messages() []CachedMessage {
	out := make([]CachedMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *MessageCache) Len() int { return len(c.messages) }

func (c *MessageCache) Cap() int { return c.max }
