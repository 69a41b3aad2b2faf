package channel

import (
	"testing"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	testAppID  = "app-1"
	testKey    = "key-1"
	testSecret = "secret-1"
)

func testApps() *app.ArrayManager {
	return app.NewArrayManager(zap.NewNop(), []config.AppConfig{
		{ID: testAppID, Key: testKey, Secret: testSecret},
		{ID: "app-2", Key: "key-2", Secret: "secret-2"},
	})
}

func newTestRegistry() *Registry {
	return NewRegistry(zap.NewNop(), testAppID, testApps(), 3)
}

// events returns the event names of every frame c received.
func events(c *conn.Recorder) []string {
	var out []string
	for _, f := range c.Frames() {
		out = append(out, gjson.GetBytes(f, "event").String())
	}
	return out
}

func lastFrame(t *testing.T, c *conn.Recorder) gjson.Result {
	t.Helper()
	frames := c.Frames()
	if len(frames) == 0 {
		t.Fatalf("connection %s received no frames", c.ID())
	}
	return gjson.ParseBytes(frames[len(frames)-1])
}
