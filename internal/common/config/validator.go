package config

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found in a configuration so that
// operators see them all at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks driver names and the statically configured applications.
func (c *BrokerConfig) Validate() error {
	var problems []string

	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	switch c.RateLimiter.Driver {
	case DriverMemory, DriverRedis:
	default:
		problems = append(problems, fmt.Sprintf("unknown rate_limiter.driver %q", c.RateLimiter.Driver))
	}
	switch c.Bridge.Driver {
	case DriverLocal, DriverRedis:
	default:
		problems = append(problems, fmt.Sprintf("unknown bridge.driver %q", c.Bridge.Driver))
	}
	switch c.AppManager.Driver {
	case DriverArray:
		problems = append(problems, validateApps(c.AppManager.Apps)...)
	case DriverDatabase:
		if c.AppManager.Database.Type == "" {
			problems = append(problems, "app_manager.database.type is required for the database driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown app_manager.driver %q", c.AppManager.Driver))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateApps(apps []AppConfig) []string {
	var problems []string
	ids := make(map[string]bool)
	keys := make(map[string]bool)
	for i, a := range apps {
		if a.ID == "" || a.Key == "" || a.Secret == "" {
			problems = append(problems, fmt.Sprintf("app #%d: id, key and secret are required", i))
			continue
		}
		if ids[a.ID] {
			problems = append(problems, fmt.Sprintf("duplicate app id %q", a.ID))
		}
		if keys[a.Key] {
			problems = append(problems, fmt.Sprintf("duplicate app key %q", a.Key))
		}
		ids[a.ID] = true
		keys[a.Key] = true
	}
	return problems
}
