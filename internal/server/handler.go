package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/amoylab/pushgate/internal/broker"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/errorx"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/amoylab/pushgate/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxEventChannels = 100
	maxBatchEvents   = 10
	socketIDAttempts = 3
)

type (
	eventRequest struct {
		Name     string          `json:"name"`
		Data     json.RawMessage `json:"data"`
		Channels []string        `json:"channels"`
		Channel  string          `json:"channel"`
		SocketID string          `json:"socket_id"`
	}

	batchRequest struct {
		Batch []eventRequest `json:"batch"`
	}
)

// dataString returns the event data as the string Pusher clients expect.
// Structured data is passed through as its JSON text.
func (r *eventRequest) dataString() string {
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	return string(r.Data)
}

func (r *eventRequest) channels() []string {
	if len(r.Channels) > 0 {
		return r.Channels
	}
	if r.Channel != "" {
		return []string{r.Channel}
	}
	return nil
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.active.Add(1)
	defer s.active.Done()

	ctx := c.Request.Context()
	sock := newWSConn(s.logger, ws, s.socketID(), nil)
	sock.onSent = func(n int) {
		if appID := conn.AppID(sock); appID != "" {
			s.broker.RecordSent(appID, n)
		}
	}
	s.track(sock)
	defer s.untrack(sock)

	a, err := s.broker.Apps().FindByKey(ctx, c.Param("key"))
	if err != nil {
		s.logger.Debug("unknown app key", zap.String("key", c.Param("key")), zap.Error(err))
		sock.fail(errorx.ErrAppNotFound)
		sock.writePump()
		return
	}

	err = s.broker.Connect(ctx, sock, a)
	for i := 1; i < socketIDAttempts && errors.Is(err, cnst.ErrDuplicateConnection); i++ {
		sock.renew(s.socketID())
		err = s.broker.Connect(ctx, sock, a)
	}
	if err != nil {
		var werr *errorx.WireError
		if errors.As(err, &werr) {
			sock.fail(werr)
		} else {
			s.logger.Error("failed to admit connection", zap.String("app_id", a.ID), zap.Error(err))
			sock.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
		sock.writePump()
		return
	}
	go sock.writePump()

	idle := s.cfg.ActivityTimeout + s.cfg.PongTimeout
	sock.readPump(ctx, idle, func(ctx context.Context, data []byte) {
		s.broker.HandleMessage(ctx, sock, data)
	})
	s.broker.Disconnect(ctx, sock)
	sock.closeWith(websocket.CloseNormalClosure, "")
	sock.wait()
}

func (s *Server) handleEvents(c *gin.Context) {
	a := appFrom(c)
	var req eventRequest
	if err := json.Unmarshal(bodyFrom(c), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	channels := req.channels()
	switch {
	case req.Name == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	case len(channels) == 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one channel is required"})
		return
	case len(channels) > maxEventChannels:
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many channels"})
		return
	}

	if !s.admit(c, a.ID, "backend", s.broker.Limiter().ConsumeBackendEventPoints(c.Request.Context(), len(channels), a)) {
		return
	}
	err := s.broker.Publish(c.Request.Context(), a, channels, req.Name, req.dataString(), req.SocketID)
	s.publishResponse(c, err)
}

func (s *Server) handleBatchEvents(c *gin.Context) {
	a := appFrom(c)
	var req batchRequest
	if err := json.Unmarshal(bodyFrom(c), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if len(req.Batch) == 0 || len(req.Batch) > maxBatchEvents {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must hold between 1 and " + strconv.Itoa(maxBatchEvents) + " events"})
		return
	}

	events := make([]broker.Event, 0, len(req.Batch))
	for i := range req.Batch {
		ev := &req.Batch[i]
		if ev.Name == "" || ev.Channel == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every event needs a name and a channel"})
			return
		}
		events = append(events, broker.Event{Channel: ev.Channel, Name: ev.Name, Data: ev.dataString(), SocketID: ev.SocketID})
	}

	if !s.admit(c, a.ID, "backend", s.broker.Limiter().ConsumeBackendEventPoints(c.Request.Context(), len(events), a)) {
		return
	}
	err := s.broker.PublishBatch(c.Request.Context(), a, events)
	s.publishResponse(c, err)
}

func (s *Server) publishResponse(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{})
	case errors.Is(err, cnst.ErrInvalidChannelName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("publish failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
	}
}

func (s *Server) handleChannels(c *gin.Context) {
	a := appFrom(c)
	if !s.admit(c, a.ID, "read", s.broker.Limiter().ConsumeReadRequestPoints(c.Request.Context(), 1, a)) {
		return
	}
	prefix := c.Query("filter_by_prefix")
	withUsers := hasInfo(c, "user_count")
	if withUsers && !strings.HasPrefix(prefix, cnst.PrefixPresence) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_count is only available for presence channels"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": s.broker.ChannelsInfo(a.ID, prefix, withUsers)})
}

func (s *Server) handleChannel(c *gin.Context) {
	a := appFrom(c)
	if !s.admit(c, a.ID, "read", s.broker.Limiter().ConsumeReadRequestPoints(c.Request.Context(), 1, a)) {
		return
	}
	name := c.Param("channel_name")
	withUsers := hasInfo(c, "user_count")
	if withUsers && !strings.HasPrefix(name, cnst.PrefixPresence) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_count is only available for presence channels"})
		return
	}
	info, err := s.broker.ChannelInfo(a.ID, name, withUsers, hasInfo(c, "subscription_count"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleChannelUsers(c *gin.Context) {
	a := appFrom(c)
	if !s.admit(c, a.ID, "read", s.broker.Limiter().ConsumeReadRequestPoints(c.Request.Context(), 1, a)) {
		return
	}
	ids, err := s.broker.ChannelUsers(a.ID, c.Param("channel_name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	users := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		users = append(users, gin.H{"id": id})
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// admit writes a 429 for a denied limiter result and reports whether the
// request may proceed.
func (s *Server) admit(c *gin.Context, appID, bucket string, res ratelimit.Result) bool {
	if res.CanContinue {
		return true
	}
	if s.metrics != nil {
		s.metrics.RateLimited(appID, bucket)
	}
	retry := errorx.RateLimitExceeded(res.MsBeforeNext).RetryAfter
	c.Header("Retry-After", strconv.Itoa(retry))
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded", "retry_after": retry})
	return false
}

func hasInfo(c *gin.Context, attr string) bool {
	for _, v := range strings.Split(c.Query("info"), ",") {
		if strings.TrimSpace(v) == attr {
			return true
		}
	}
	return false
}
