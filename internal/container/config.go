package container

import (
	"fmt"
	"time"

	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// Config holds everything the container needs to assemble the application
type Config struct {
	Database      DatabaseConfig
	Scheduler     SchedulerConfig
	Monitor       MonitorConfig
	Audit         AuditConfig
	Documents     DocumentsConfig
	Authorization AuthorizationConfig
}

// DatabaseConfig selects and tunes the persistence backend
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory"
	Driver          string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// SchedulerConfig configures the due-date sweep and its cron worker
type SchedulerConfig struct {
	Enabled     bool
	Cron        string
	Location    *time.Location
	Concurrency int
	MaxAttempts int
	// Backoff between attempts on a stale version stamp
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
	RunOnStart    bool
	// LockPath is the flock file shared by every process sweeping this database.
	// Empty disables cross-process locking.
	LockPath string
	Timeout  time.Duration
}

// MonitorConfig configures the stale-review monitor
type MonitorConfig struct {
	Enabled    bool
	Interval   time.Duration
	Thresholds map[workflow.State]time.Duration
}

// AuditConfig holds audit policy
type AuditConfig struct {
	// RecordRejections stores refused attempts outside the transition trail
	RecordRejections bool
}

// DocumentsConfig holds numbering policy
type DocumentsConfig struct {
	InitialMajor int
	InitialMinor int
}

// AuthorizationConfig lists role assignments granted at startup
type AuthorizationConfig struct {
	Roles []entity.RoleAssignment
}

// DefaultConfig returns an in-memory configuration suitable for tests
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Scheduler: SchedulerConfig{
			Enabled:       false,
			Cron:          "0 1 * * *",
			Location:      time.UTC,
			Concurrency:   4,
			MaxAttempts:   3,
			BackoffBase:   50 * time.Millisecond,
			BackoffFactor: 2,
			BackoffMax:    2 * time.Second,
			Timeout:       30 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled:  false,
			Interval: time.Hour,
		},
		Documents: DocumentsConfig{
			InitialMajor: 0,
			InitialMinor: 1,
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be at least 1")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max attempts must be at least 1")
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}

	for _, r := range c.Authorization.Roles {
		if !entity.IsValidRole(r.Role) {
			return fmt.Errorf("unknown role %q for %s", r.Role, r.ActorID)
		}
	}
	return nil
}
