package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// AppModel is the row layout of the apps table. Nullable limits mean
// unlimited.
type AppModel struct {
	ID                         string `gorm:"primaryKey;size:64"`
	Key                        string `gorm:"uniqueIndex;size:128;not null"`
	Secret                     string `gorm:"size:256;not null"`
	MaxConnections             *int
	EnableClientMessages       bool
	MaxBackendEventsPerSecond  *int
	MaxFrontendEventsPerSecond *int
	MaxReadRequestsPerSecond   *int
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

func (AppModel) TableName() string { return "apps" }

func (m *AppModel) toApplication() *Application {
	return FromConfig(config.AppConfig{
		ID:                         m.ID,
		Key:                        m.Key,
		Secret:                     m.Secret,
		MaxConnections:             m.MaxConnections,
		EnableClientMessages:       m.EnableClientMessages,
		MaxBackendEventsPerSecond:  m.MaxBackendEventsPerSecond,
		MaxFrontendEventsPerSecond: m.MaxFrontendEventsPerSecond,
		MaxReadRequestsPerSecond:   m.MaxReadRequestsPerSecond,
	})
}

func modelFromConfig(c config.AppConfig) *AppModel {
	return &AppModel{
		ID:                         c.ID,
		Key:                        c.Key,
		Secret:                     c.Secret,
		MaxConnections:             c.MaxConnections,
		EnableClientMessages:       c.EnableClientMessages,
		MaxBackendEventsPerSecond:  c.MaxBackendEventsPerSecond,
		MaxFrontendEventsPerSecond: c.MaxFrontendEventsPerSecond,
		MaxReadRequestsPerSecond:   c.MaxReadRequestsPerSecond,
	}
}

type cacheEntry struct {
	app     *Application
	expires time.Time
}

// DatabaseManager reads applications from a SQL table. Lookups are cached
// for a TTL and concurrent misses for the same id or key share one query.
type DatabaseManager struct {
	logger *zap.Logger
	db     *gorm.DB
	clock  clockwork.Clock
	ttl    time.Duration
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

var _ Manager = (*DatabaseManager)(nil)

// NewDatabaseManager opens the configured database and migrates the apps table.
func NewDatabaseManager(logger *zap.Logger, cfg *config.AppManagerConfig, clock clockwork.Clock) (*DatabaseManager, error) {
	logger = logger.Named("app.database")

	dsn, err := cfg.Database.GetDSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Database.Type {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Type, err)
	}
	if err := db.AutoMigrate(&AppModel{}); err != nil {
		return nil, fmt.Errorf("migrate apps table: %w", err)
	}

	return &DatabaseManager{
		logger: logger,
		db:     db,
		clock:  clock,
		ttl:    cfg.CacheTTL,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Upsert writes an application row and drops any cached copy of it.
func (m *DatabaseManager) Upsert(ctx context.Context, c config.AppConfig) error {
	if err := m.db.WithContext(ctx).Save(modelFromConfig(c)).Error; err != nil {
		return err
	}
	m.mu.Lock()
	for k, e := range m.cache {
		if e.app.ID == c.ID {
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *DatabaseManager) FindByID(ctx context.Context, id string) (*Application, error) {
	return m.lookup(ctx, "id:"+id, "id", id)
}

func (m *DatabaseManager) FindByKey(ctx context.Context, key string) (*Application, error) {
	return m.lookup(ctx, "key:"+key, "key", key)
}

func (m *DatabaseManager) SecretByKey(ctx context.Context, key string) (string, error) {
	a, err := m.FindByKey(ctx, key)
	if err != nil {
		return "", err
	}
	return a.Secret, nil
}

// Close releases the underlying connection pool.
func (m *DatabaseManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *DatabaseManager) lookup(ctx context.Context, cacheKey, column, value string) (*Application, error) {
	now := m.clock.Now()
	m.mu.RLock()
	e, ok := m.cache[cacheKey]
	m.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.app, nil
	}

	v, err, _ := m.group.Do(cacheKey, func() (interface{}, error) {
		var row AppModel
		err := m.db.WithContext(ctx).Where(map[string]interface{}{column: value}).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", cacheKey, cnst.ErrAppNotFound)
		}
		if err != nil {
			m.logger.Warn("app lookup failed", zap.String("lookup", cacheKey), zap.Error(err))
			return nil, err
		}
		a := row.toApplication()
		m.mu.Lock()
		m.cache[cacheKey] = cacheEntry{app: a, expires: m.clock.Now().Add(m.ttl)}
		m.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Application), nil
}
