package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/amoylab/pushgate/internal/common/errorx"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

var errSendQueueFull = errors.New("send queue full")

// newSocketID returns a Pusher style socket id such as "1234.5678".
func newSocketID() string {
	return fmt.Sprintf("%d.%d", rand.IntN(1_000_000_000), rand.IntN(1_000_000_000))
}

// wsConn adapts a gorilla connection to the broker. Frames are queued by
// Send and written by a single writer goroutine.
type wsConn struct {
	conn.Attributes

	id     string
	ws     *websocket.Conn
	base   *zap.Logger
	logger *zap.Logger
	onSent func(size int)

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode int
	closeText string

	done chan struct{}
}

var _ conn.Connection = (*wsConn)(nil)

func newWSConn(logger *zap.Logger, ws *websocket.Conn, id string, onSent func(int)) *wsConn {
	return &wsConn{
		id:        id,
		ws:        ws,
		base:      logger,
		logger:    logger.With(zap.String("socket_id", id)),
		onSent:    onSent,
		send:      make(chan []byte, sendQueueSize),
		closeCode: websocket.CloseNormalClosure,
		done:      make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// renew gives the socket a new id. It must run before writePump starts.
func (c *wsConn) renew(id string) {
	c.id = id
	c.logger = c.base.With(zap.String("socket_id", id))
}

// Send never blocks. A client that cannot keep up loses frames.
func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return conn.ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendQueueFull
	}
}

// closeWith stops accepting frames. The writer drains the queue, then sends
// a close frame carrying code and text.
func (c *wsConn) closeWith(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
}

// fail reports err to the client and closes with its code.
func (c *wsConn) fail(err *errorx.WireError) {
	_ = c.Send(err.Envelope())
	c.closeWith(err.Code, err.Message)
}

func (c *wsConn) writePump() {
	defer close(c.done)
	defer c.ws.Close()

	for payload := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.Debug("write failed", zap.Error(err))
			c.discard()
			return
		}
		c.onSent(len(payload))
	}

	c.mu.Lock()
	code, text := c.closeCode, c.closeText
	c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// discard drains whatever is still queued after the socket broke.
func (c *wsConn) discard() {
	c.closeWith(websocket.CloseAbnormalClosure, "")
	for range c.send {
	}
}

// readPump feeds frames to handle until the socket fails or the client
// stays silent for longer than idle.
func (c *wsConn) readPump(ctx context.Context, idle time.Duration, handle func(context.Context, []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				c.logger.Debug("client went silent")
				c.fail(errorx.ErrPongNotReceived)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
				c.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))
		handle(ctx, data)
	}
}

// wait blocks until the writer has finished.
func (c *wsConn) wait() { <-c.done }
