package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/bridge"
	"github.com/amoylab/pushgate/internal/channel"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/amoylab/pushgate/internal/ratelimit"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func intPtr(v int) *int { return &v }

func testApps() *app.ArrayManager {
	return app.NewArrayManager(zap.NewNop(), []config.AppConfig{
		{
			ID: "app-1", Key: "key-1", Secret: "secret-1",
			MaxConnections:             intPtr(3),
			EnableClientMessages:       true,
			MaxFrontendEventsPerSecond: intPtr(5),
		},
		{ID: "app-2", Key: "key-2", Secret: "secret-2"},
	})
}

// newCluster builds brokers that share one in-process bridge, each acting as
// a separate node.
func newCluster(t *testing.T, nodes ...string) []*Broker {
	t.Helper()
	cfg := &config.BrokerConfig{}
	cfg.SetDefaults()

	apps := testApps()
	br := bridge.NewLocalBridge(zap.NewNop())
	limiter := ratelimit.NewMemoryLimiter(zap.NewNop(), cfg.RateLimiter.Prefix, clockwork.NewFakeClock())

	out := make([]*Broker, 0, len(nodes))
	for _, node := range nodes {
		b := New(zap.NewNop(), cfg, apps, limiter, br, WithNodeID(node))
		require.NoError(t, b.Start(context.Background()))
		out = append(out, b)
	}
	return out
}

func newBroker(t *testing.T) *Broker {
	t.Helper()
	return newCluster(t, "node-a")[0]
}

func connect(t *testing.T, b *Broker, appID, id string) *conn.Recorder {
	t.Helper()
	ctx := context.Background()
	a, err := b.Apps().FindByID(ctx, appID)
	require.NoError(t, err)
	c := conn.NewRecorder(id)
	require.NoError(t, b.Connect(ctx, c, a))
	return c
}

func frame(t *testing.T, event string, data any, channelName string) []byte {
	t.Helper()
	m := map[string]any{"event": event, "data": data}
	if channelName != "" {
		m["channel"] = channelName
	}
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return out
}

// subscribe sends pusher:subscribe, signing with key when it is set. Test
// secrets mirror their key ("key-1" signs with "secret-1").
func subscribe(t *testing.T, b *Broker, c *conn.Recorder, name, key, data string) {
	t.Helper()
	fields := map[string]any{"channel": name}
	if key != "" {
		fields["auth"] = channel.Token(key, strings.Replace(key, "key-", "secret-", 1), c.ID(), name, data)
	}
	if data != "" {
		fields["channel_data"] = data
	}
	b.HandleMessage(context.Background(), c, frame(t, "pusher:subscribe", fields, ""))
}

func presenceData(userID string) string {
	return fmt.Sprintf(`{"user_id":%q,"user_info":{"name":%q}}`, userID, "n-"+userID)
}

func events(c *conn.Recorder) []string {
	var out []string
	for _, f := range c.Frames() {
		out = append(out, gjson.GetBytes(f, "event").String())
	}
	return out
}

// framesOf returns every frame c received for event.
func framesOf(c *conn.Recorder, event string) []gjson.Result {
	var out []gjson.Result
	for _, f := range c.Frames() {
		if r := gjson.ParseBytes(f); r.Get("event").String() == event {
			out = append(out, r)
		}
	}
	return out
}

func lastFrame(t *testing.T, c *conn.Recorder) gjson.Result {
	t.Helper()
	frames := c.Frames()
	require.NotEmpty(t, frames, "connection %s received no frames", c.ID())
	return gjson.ParseBytes(frames[len(frames)-1])
}
