package conn

import (
	"sync"

	"github.com/amoylab/pushgate/internal/common/cnst"
)

// Connection is the broker's view of one client socket. The transport owns
// the socket; the broker only reads its id, keeps per-connection attributes
// and hands it serialized frames.
type Connection interface {
	ID() string
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	// Send queues a frame for delivery. It must not block on the network.
	Send(payload []byte) error
}

// Attributes is a goroutine-safe attribute bag that transports embed to
// satisfy the attribute half of Connection.
type Attributes struct {
	mu    sync.RWMutex
	attrs map[string]any
}

func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.attrs[key]
	return v, ok
}

func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attrs == nil {
		a.attrs = make(map[string]any)
	}
	a.attrs[key] = value
}

func (a *Attributes) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attrs, key)
}

// AppID returns the application the connection was admitted under.
func AppID(c Connection) string {
	return stringAttr(c, cnst.AttrAppID)
}

// UserID returns the user id recorded by the latest presence subscription.
func UserID(c Connection) string {
	return stringAttr(c, cnst.AttrUserID)
}

// ChannelData returns the parsed subscription data stored for a channel.
func ChannelData(c Connection, channel string) (map[string]any, bool) {
	v, ok := c.Get(cnst.AttrChannel + channel)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func stringAttr(c Connection, key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
