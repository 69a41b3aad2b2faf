package app

import (
	"context"
	"testing"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func intPtr(v int) *int { return &v }

func sampleApps() []config.AppConfig {
	return []config.AppConfig{
		{ID: "1", Key: "key-1", Secret: "secret-1", MaxConnections: intPtr(10), EnableClientMessages: true, MaxFrontendEventsPerSecond: intPtr(5)},
		{ID: "2", Key: "key-2", Secret: "secret-2"},
	}
}

func TestFromConfig_Limits(t *testing.T) {
	a := FromConfig(sampleApps()[0])
	assert.Equal(t, 10, a.MaxConnections)
	assert.True(t, a.HasConnectionLimit())
	assert.Equal(t, 5, a.RateLimits.Frontend)
	assert.Equal(t, cnst.Unlimited, a.RateLimits.Backend)
	assert.Equal(t, cnst.Unlimited, a.RateLimits.ReadRequests)

	b := FromConfig(config.AppConfig{ID: "x", MaxConnections: intPtr(-5)})
	assert.Equal(t, cnst.Unlimited, b.MaxConnections)
	assert.False(t, b.HasConnectionLimit())
}

func TestArrayManager(t *testing.T) {
	ctx := context.Background()
	m := NewArrayManager(zap.NewNop(), sampleApps())

	a, err := m.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", a.Key)

	a, err = m.FindByKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "2", a.ID)

	secret, err := m.SecretByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-1", secret)

	_, err = m.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, cnst.ErrAppNotFound)
	_, err = m.SecretByKey(ctx, "nope")
	assert.ErrorIs(t, err, cnst.ErrAppNotFound)
}

func TestNewManager_Array(t *testing.T) {
	m, err := NewManager(context.Background(), zap.NewNop(), &config.AppManagerConfig{Driver: config.DriverArray, Apps: sampleApps()})
	require.NoError(t, err)
	assert.IsType(t, &ArrayManager{}, m)
}

func TestNewManager_Unsupported(t *testing.T) {
	_, err := NewManager(context.Background(), zap.NewNop(), &config.AppManagerConfig{Driver: "ldap"})
	assert.Error(t, err)
}
