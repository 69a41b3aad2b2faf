package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/bridge"
	"github.com/amoylab/pushgate/internal/broker"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/internal/ratelimit"
	"github.com/amoylab/pushgate/pkg/metrics"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func intPtr(v int) *int { return &v }

type fixture struct {
	cfg    *config.BrokerConfig
	broker *broker.Broker
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, tune func(*config.BrokerConfig)) *fixture {
	t.Helper()
	return newFixtureWith(t, tune)
}

func newFixtureWith(t *testing.T, tune func(*config.BrokerConfig), opts ...Option) *fixture {
	t.Helper()
	cfg := &config.BrokerConfig{}
	cfg.Metrics.Enabled = true
	cfg.AppManager.Apps = []config.AppConfig{
		{ID: "app-1", Key: "key-1", Secret: "secret-1", EnableClientMessages: true},
		{ID: "app-2", Key: "key-2", Secret: "secret-2", MaxConnections: intPtr(1), MaxBackendEventsPerSecond: intPtr(1), MaxReadRequestsPerSecond: intPtr(1)},
	}
	if tune != nil {
		tune(cfg)
	}
	cfg.SetDefaults()

	logger := zap.NewNop()
	m := metrics.New(cfg.Metrics)
	apps := app.NewArrayManager(logger, cfg.AppManager.Apps)
	limiter := ratelimit.NewMemoryLimiter(logger, cfg.RateLimiter.Prefix, clockwork.NewRealClock())
	b := broker.New(logger, cfg, apps, limiter, bridge.NewLocalBridge(logger), broker.WithRecorder(m))
	require.NoError(t, b.Start(context.Background()))

	s := NewServer(logger, cfg, b, m, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{cfg: cfg, broker: b, server: s, http: ts}
}

func (f *fixture) dial(t *testing.T, key string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/app/" + key + "?protocol=7"
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// connect dials and returns the socket with its id.
func (f *fixture) connect(t *testing.T, key string) (*websocket.Conn, string) {
	t.Helper()
	ws := f.dial(t, key)
	greet := readEvent(t, ws, "pusher:connection_established")
	return ws, gjson.Get(greet.Get("data").Str, "socket_id").String()
}

func readFrame(t *testing.T, ws *websocket.Conn) (gjson.Result, error) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(data), nil
}

// readEvent skips frames until one carries event.
func readEvent(t *testing.T, ws *websocket.Conn, event string) gjson.Result {
	t.Helper()
	for {
		frame, err := readFrame(t, ws)
		require.NoError(t, err, "waiting for %s", event)
		if frame.Get("event").String() == event {
			return frame
		}
	}
}

// signed issues an HTTP API request signed with key and secret.
func (f *fixture) signed(t *testing.T, method, path, key, secret string, query url.Values, body string) *http.Response {
	t.Helper()
	q := SignQuery(key, secret, method, path, query, []byte(body), time.Now())
	req, err := http.NewRequest(method, f.http.URL+path+"?"+q.Encode(), bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
