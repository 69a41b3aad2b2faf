package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_UnknownDrivers(t *testing.T) {
	cfg := &BrokerConfig{}
	cfg.SetDefaults()
	cfg.RateLimiter.Driver = "etcd"
	cfg.Bridge.Driver = "kafka"

	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 2)
	assert.Contains(t, err.Error(), `"etcd"`)
	assert.Contains(t, err.Error(), `"kafka"`)
}

func TestValidate_Apps(t *testing.T) {
	cfg := &BrokerConfig{}
	cfg.SetDefaults()
	cfg.AppManager.Apps = []AppConfig{
		{ID: "1", Key: "k1", Secret: "s"},
		{ID: "1", Key: "k2", Secret: "s"},
		{ID: "2", Key: "k1", Secret: "s"},
		{ID: "3", Key: "k3"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 3)
}

func TestValidate_DatabaseDriverNeedsType(t *testing.T) {
	cfg := &BrokerConfig{}
	cfg.SetDefaults()
	cfg.AppManager.Driver = DriverDatabase
	assert.Error(t, cfg.Validate())

	cfg.AppManager.Database.Type = "sqlite"
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	pg := DatabaseConfig{Type: "postgres", User: "u", Password: "p", Host: "h", Port: 5432, DBName: "d", SSLMode: "disable"}
	dsn, err := pg.GetDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", dsn)

	my := DatabaseConfig{Type: "mysql", User: "u", Password: "p", Host: "h", Port: 3306, DBName: "d"}
	dsn, err = my.GetDSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "u:p@tcp(h:3306)/d?")

	mem := DatabaseConfig{Type: "sqlite", DBName: ":memory:"}
	dsn, err = mem.GetDSN()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	_, err = (&DatabaseConfig{Type: "oracle"}).GetDSN()
	assert.Error(t, err)
}
