package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B:db}\nc: ${X_C}")
	out := string(resolveEnv(in))
	assert.Contains(t, out, "a: va")
	assert.Contains(t, out, "b: db")
	assert.True(t, strings.HasSuffix(out, "c: "))
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 6001, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ActivityTimeout)
	assert.Equal(t, 30*time.Second, cfg.PongTimeout)
	assert.Equal(t, DriverMemory, cfg.RateLimiter.Driver)
	assert.Equal(t, DriverLocal, cfg.Bridge.Driver)
	assert.Equal(t, "pushgate:broadcast", cfg.Bridge.Channel)
	assert.Equal(t, time.Second, cfg.Bridge.ReconnectBackoff)
	assert.Equal(t, 100, cfg.Channels.MaxCachedMessages)
	assert.Equal(t, DriverArray, cfg.AppManager.Driver)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfig_File(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	_ = os.Chdir(tmp)
	t.Setenv("PG_SECRET", "s3cr3t")

	yaml := `
port: 7001
activity_timeout: 45s
rate_limiter:
  driver: redis
  prefix: rl
bridge:
  driver: redis
  reconnect_timeout: 5s
channels:
  max_cached_messages: 10
app_manager:
  apps:
    - id: "1"
      key: app-key
      secret: ${PG_SECRET:none}
      enable_client_messages: true
      max_connections: 3
      max_frontend_events_per_second: 5
`
	file := filepath.Join(tmp, "pushgate.yaml")
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))

	cfg, path, err := LoadConfig("pushgate.yaml")
	require.NoError(t, err)
	realFile, _ := filepath.EvalSymlinks(file)
	realPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, realFile, realPath)

	assert.Equal(t, 7001, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.ActivityTimeout)
	assert.Equal(t, "rl", cfg.RateLimiter.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Bridge.ReconnectTimeout)
	assert.Equal(t, 10, cfg.Channels.MaxCachedMessages)
	require.Len(t, cfg.AppManager.Apps, 1)
	app := cfg.AppManager.Apps[0]
	assert.Equal(t, "s3cr3t", app.Secret)
	assert.True(t, app.EnableClientMessages)
	require.NotNil(t, app.MaxConnections)
	assert.Equal(t, 3, *app.MaxConnections)
	assert.Nil(t, app.MaxBackendEventsPerSecond)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_ShippedConfig(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "..", "configs", "pushgate.yaml"))
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, DriverArray, cfg.AppManager.Driver)
	require.Len(t, cfg.AppManager.Apps, 1)
	assert.NotNil(t, cfg.AppManager.Apps[0].MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.PongTimeout)
}
