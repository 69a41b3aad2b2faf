package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/amoylab/pushgate/internal/broker"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type (
	// Server exposes the WebSocket endpoint and the HTTP API of a broker.
	Server struct {
		logger   *zap.Logger
		cfg      *config.BrokerConfig
		broker   *broker.Broker
		metrics  *metrics.Metrics
		clock    clockwork.Clock
		socketID func() string
		router   *gin.Engine
		http     *http.Server
		upgrader websocket.Upgrader

		mu      sync.Mutex
		sockets map[*wsConn]struct{}
		active  sync.WaitGroup
	}

	Option func(*Server)
)

// WithClock replaces the clock used to check request timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithSocketIDs replaces the socket id generator.
func WithSocketIDs(next func() string) Option {
	return func(s *Server) { s.socketID = next }
}

// NewServer builds the router. m may be nil when metrics are disabled.
func NewServer(logger *zap.Logger, cfg *config.BrokerConfig, b *broker.Broker, m *metrics.Metrics, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger:   logger.Named("server"),
		cfg:      cfg,
		broker:   b,
		metrics:  m,
		clock:    clockwork.NewRealClock(),
		socketID: newSocketID,
		router:   gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		sockets: make(map[*wsConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(s.recoveryMiddleware())
	if cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	if m != nil {
		s.router.Use(m.Middleware())
	}
	s.router.Use(s.loggerMiddleware())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Health check passed.",
		})
	})
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/app/:key", s.handleWebSocket)

	api := s.router.Group("/apps/:app_id", s.signatureMiddleware())
	api.POST("/events", s.handleEvents)
	api.POST("/batch_events", s.handleBatchEvents)
	api.GET("/channels", s.handleChannels)
	api.GET("/channels/:channel_name", s.handleChannel)
	api.GET("/channels/:channel_name/users", s.handleChannelUsers)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", l.Addr().String()))
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured host and port.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests, closes every WebSocket with 1001 and
// waits for their disconnect handling to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.mu.Lock()
	srv := s.http
	for c := range s.sockets {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.sockets[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.sockets, c)
	s.mu.Unlock()
}
