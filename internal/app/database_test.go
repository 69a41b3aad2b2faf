package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteManager(t *testing.T, clock clockwork.Clock) *DatabaseManager {
	t.Helper()
	cfg := &config.AppManagerConfig{
		Driver:   config.DriverDatabase,
		CacheTTL: time.Minute,
		Database: config.DatabaseConfig{Type: "sqlite", DBName: filepath.Join(t.TempDir(), "apps.db")},
	}
	m, err := NewDatabaseManager(zap.NewNop(), cfg, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestDatabaseManager_Lookups(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteManager(t, clockwork.NewFakeClock())
	for _, a := range sampleApps() {
		require.NoError(t, m.Upsert(ctx, a))
	}

	a, err := m.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", a.Key)
	assert.Equal(t, 10, a.MaxConnections)
	assert.True(t, a.EnableClientMessages)
	assert.Equal(t, 5, a.RateLimits.Frontend)

	b, err := m.FindByKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, cnst.Unlimited, b.MaxConnections)

	secret, err := m.SecretByKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "secret-2", secret)

	_, err = m.FindByKey(ctx, "missing")
	assert.ErrorIs(t, err, cnst.ErrAppNotFound)
}

func TestDatabaseManager_CacheExpires(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := newSQLiteManager(t, clock)
	require.NoError(t, m.Upsert(ctx, sampleApps()[0]))

	_, err := m.FindByKey(ctx, "key-1")
	require.NoError(t, err)

	// Delete behind the manager's back; the cached row keeps serving.
	require.NoError(t, m.db.Delete(&AppModel{ID: "1"}).Error)
	_, err = m.FindByKey(ctx, "key-1")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.FindByKey(ctx, "key-1")
	assert.ErrorIs(t, err, cnst.ErrAppNotFound)
}

func TestDatabaseManager_UpsertInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteManager(t, clockwork.NewFakeClock())
	cfg := sampleApps()[1]
	require.NoError(t, m.Upsert(ctx, cfg))

	a, err := m.FindByID(ctx, "2")
	require.NoError(t, err)
	assert.False(t, a.EnableClientMessages)

	cfg.EnableClientMessages = true
	require.NoError(t, m.Upsert(ctx, cfg))

	a, err = m.FindByID(ctx, "2")
	require.NoError(t, err)
	assert.True(t, a.EnableClientMessages)
}

func TestDatabaseManager_ConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteManager(t, clockwork.NewFakeClock())
	require.NoError(t, m.Upsert(ctx, sampleApps()[0]))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := m.FindByID(ctx, "1")
			assert.NoError(t, err)
			assert.Equal(t, "1", a.ID)
		}()
	}
	wg.Wait()
}

func TestNewManager_DatabaseSeedsApps(t *testing.T) {
	ctx := context.Background()
	cfg := &config.AppManagerConfig{
		Driver:   config.DriverDatabase,
		CacheTTL: time.Minute,
		Apps:     sampleApps(),
		Database: config.DatabaseConfig{Type: "sqlite", DBName: filepath.Join(t.TempDir(), "seed.db")},
	}
	m, err := NewManager(ctx, zap.NewNop(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.(*DatabaseManager).Close() })

	a, err := m.FindByKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "2", a.ID)
}

func TestNewDatabaseManager_BadType(t *testing.T) {
	_, err := NewDatabaseManager(zap.NewNop(), &config.AppManagerConfig{Database: config.DatabaseConfig{Type: "oracle"}}, clockwork.NewFakeClock())
	assert.Error(t, err)
}
