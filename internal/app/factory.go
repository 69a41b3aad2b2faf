package app

import (
	"context"
	"fmt"

	"github.com/amoylab/pushgate/internal/common/config"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// NewManager creates the application manager selected by configuration.
// Applications listed in configuration are seeded into the database driver.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.AppManagerConfig) (Manager, error) {
	logger.Info("Initializing application manager", zap.String("driver", cfg.Driver))
	switch cfg.Driver {
	case config.DriverArray:
		return NewArrayManager(logger, cfg.Apps), nil
	case config.DriverDatabase:
		m, err := NewDatabaseManager(logger, cfg, clockwork.NewRealClock())
		if err != nil {
			return nil, err
		}
		for _, a := range cfg.Apps {
			if err := m.Upsert(ctx, a); err != nil {
				return nil, fmt.Errorf("seed app %s: %w", a.ID, err)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported app manager driver: %s", cfg.Driver)
	}
}
