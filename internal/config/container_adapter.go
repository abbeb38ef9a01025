package config

import (
	"fmt"
	"strings"

	"github.com/jinkaiteo/edms/internal/container"
	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// ToContainerConfig converts the application Config to a container.Config.
// This bridges the file-based config loaded by viper and the container's
// resolved configuration: timezones are loaded and state names parsed.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	thresholds, err := c.StaleThresholds()
	if err != nil {
		return nil, err
	}

	roles := make([]entity.RoleAssignment, 0, len(c.Authorization.Roles))
	for _, seed := range c.Authorization.Roles {
		roles = append(roles, entity.RoleAssignment{
			ActorID: seed.Actor,
			Role:    strings.ToLower(seed.Role),
		})
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Scheduler: container.SchedulerConfig{
			Enabled:       c.Scheduler.Enabled,
			Cron:          c.Scheduler.Cron,
			Location:      loc,
			Concurrency:   c.Scheduler.Concurrency,
			MaxAttempts:   c.Scheduler.MaxAttempts,
			BackoffBase:   c.Scheduler.BackoffBase,
			BackoffFactor: c.Scheduler.BackoffFactor,
			BackoffMax:    c.Scheduler.BackoffMax,
			RunOnStart:    c.Scheduler.RunOnStart,
			LockPath:      c.Scheduler.LockPath,
			Timeout:       c.Scheduler.Timeout,
		},
		Monitor: container.MonitorConfig{
			Enabled:    c.Monitor.Enabled,
			Interval:   c.Monitor.Interval,
			Thresholds: thresholds,
		},
		Audit: container.AuditConfig{
			RecordRejections: c.Audit.RecordRejections,
		},
		Documents: container.DocumentsConfig{
			InitialMajor: c.Documents.InitialMajor,
			InitialMinor: c.Documents.InitialMinor,
		},
		Authorization: container.AuthorizationConfig{
			Roles: roles,
		},
	}, nil
}
