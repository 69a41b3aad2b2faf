package app

import (
	"context"
	"fmt"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
	"go.uber.org/zap"
)

// ArrayManager serves applications straight from configuration.
type ArrayManager struct {
	logger *zap.Logger
	byID   map[string]*Application
	byKey  map[string]*Application
}

var _ Manager = (*ArrayManager)(nil)

func NewArrayManager(logger *zap.Logger, apps []config.AppConfig) *ArrayManager {
	m := &ArrayManager{
		logger: logger.Named("app.array"),
		byID:   make(map[string]*Application, len(apps)),
		byKey:  make(map[string]*Application, len(apps)),
	}
	for _, c := range apps {
		a := FromConfig(c)
		m.byID[a.ID] = a
		m.byKey[a.Key] = a
	}
	m.logger.Info("loaded applications", zap.Int("count", len(m.byID)))
	return m
}

func (m *ArrayManager) FindByID(_ context.Context, id string) (*Application, error) {
	if a, ok := m.byID[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("app id %q: %w", id, cnst.ErrAppNotFound)
}

func (m *ArrayManager) FindByKey(_ context.Context, key string) (*Application, error) {
	if a, ok := m.byKey[key]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("app key %q: %w", key, cnst.ErrAppNotFound)
}

func (m *ArrayManager) SecretByKey(ctx context.Context, key string) (string, error) {
	a, err := m.FindByKey(ctx, key)
	if err != nil {
		return "", err
	}
	return a.Secret, nil
}
