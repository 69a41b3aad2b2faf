package app

import (
	"context"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/config"
)

// Application is a tenant of the broker. It is read-only once loaded.
type Application struct {
	ID                   string
	Key                  string
	Secret               string
	MaxConnections       int // cnst.Unlimited when absent
	EnableClientMessages bool
	RateLimits           RateLimits
}

// RateLimits are points per second. cnst.Unlimited disables a bucket.
type RateLimits struct {
	Backend      int
	Frontend     int
	ReadRequests int
}

// Manager looks applications up by id or key.
type Manager interface {
	FindByID(ctx context.Context, id string) (*Application, error)
	FindByKey(ctx context.Context, key string) (*Application, error)
	SecretByKey(ctx context.Context, key string) (string, error)
}

// FromConfig converts a configured application, mapping absent limits to
// unlimited.
func FromConfig(c config.AppConfig) *Application {
	return &Application{
		ID:                   c.ID,
		Key:                  c.Key,
		Secret:               c.Secret,
		MaxConnections:       limitOrUnlimited(c.MaxConnections),
		EnableClientMessages: c.EnableClientMessages,
		RateLimits: RateLimits{
			Backend:      limitOrUnlimited(c.MaxBackendEventsPerSecond),
			Frontend:     limitOrUnlimited(c.MaxFrontendEventsPerSecond),
			ReadRequests: limitOrUnlimited(c.MaxReadRequestsPerSecond),
		},
	}
}

func limitOrUnlimited(v *int) int {
	if v == nil || *v < 0 {
		return cnst.Unlimited
	}
	return *v
}

// HasConnectionLimit reports whether admissions must be checked against
// MaxConnections.
func (a *Application) HasConnectionLimit() bool {
	return a.MaxConnections >= 0
}
