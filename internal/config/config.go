package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// EnvPrefix prefixes every environment override, e.g. EDMS_DATABASE_PATH
const EnvPrefix = "EDMS"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Documents     DocumentsConfig     `mapstructure:"documents"`
	Authorization AuthorizationConfig `mapstructure:"authorization"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory"
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// SchedulerConfig holds the due-date sweep configuration
type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Cron          string        `mapstructure:"cron"`
	Timezone      string        `mapstructure:"timezone"`
	Concurrency   int           `mapstructure:"concurrency"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	LockPath      string        `mapstructure:"lock_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// MonitorConfig holds the stale-review monitor configuration.
// Threshold keys are state names such as PENDING_REVIEW.
type MonitorConfig struct {
	Enabled    bool                     `mapstructure:"enabled"`
	Interval   time.Duration            `mapstructure:"interval"`
	Thresholds map[string]time.Duration `mapstructure:"thresholds"`
}

// AuditConfig holds audit policy
type AuditConfig struct {
	RecordRejections bool `mapstructure:"record_rejections"`
}

// DocumentsConfig holds document numbering policy
type DocumentsConfig struct {
	InitialMajor int `mapstructure:"initial_major"`
	InitialMinor int `mapstructure:"initial_minor"`
}

// AuthorizationConfig seeds role assignments at startup
type AuthorizationConfig struct {
	Roles []RoleSeed `mapstructure:"roles"`
}

// RoleSeed grants one global role to an actor
type RoleSeed struct {
	Actor string `mapstructure:"actor"`
	Role  string `mapstructure:"role"`
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/edms.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 1 * * *")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base", 50*time.Millisecond)
	v.SetDefault("scheduler.backoff_factor", 2.0)
	v.SetDefault("scheduler.backoff_max", 2*time.Second)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.lock_path", "data/sweep.lock")
	v.SetDefault("scheduler.timeout", 30*time.Minute)

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", time.Hour)

	v.SetDefault("audit.record_rejections", false)

	v.SetDefault("documents.initial_major", 0)
	v.SetDefault("documents.initial_minor", 1)
}

// bindEnvVars binds the variables operators most often override
func bindEnvVars(v *viper.Viper) error {
	for key, env := range map[string]string{
		"database.driver":         "EDMS_DATABASE_DRIVER",
		"database.path":           "EDMS_DATABASE_PATH",
		"logger.level":            "EDMS_LOG_LEVEL",
		"logger.format":           "EDMS_LOG_FORMAT",
		"server.port":             "EDMS_PORT",
		"scheduler.timezone":      "EDMS_TIMEZONE",
		"scheduler.lock_path":     "EDMS_SWEEP_LOCK",
		"audit.record_rejections": "EDMS_RECORD_REJECTIONS",
		"scheduler.run_on_start":  "EDMS_SWEEP_ON_START",
		"monitor.enabled":         "EDMS_MONITOR_ENABLED",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves the scheduler timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}

// StaleThresholds converts the monitor thresholds to typed states
func (c *Config) StaleThresholds() (map[workflow.State]time.Duration, error) {
	out := make(map[workflow.State]time.Duration, len(c.Monitor.Thresholds))
	for name, d := range c.Monitor.Thresholds {
		st, err := workflow.ParseState(strings.ToUpper(name))
		if err != nil {
			return nil, fmt.Errorf("monitor.thresholds: %w", err)
		}
		out[st] = d
	}
	return out, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}
	if c.Scheduler.Enabled && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.cron is required when the scheduler is enabled")
	}

	if _, err := c.StaleThresholds(); err != nil {
		return err
	}

	if c.Documents.InitialMajor < 0 || c.Documents.InitialMinor < 0 ||
		(c.Documents.InitialMajor == 0 && c.Documents.InitialMinor == 0) {
		return fmt.Errorf("documents: initial version must be above v0.0")
	}

	for i, seed := range c.Authorization.Roles {
		if seed.Actor == "" || seed.Actor == entity.SystemActorID {
			return fmt.Errorf("authorization.roles[%d]: invalid actor %q", i, seed.Actor)
		}
		if !entity.IsValidRole(strings.ToLower(seed.Role)) {
			return fmt.Errorf("authorization.roles[%d]: unknown role %q", i, seed.Role)
		}
	}

	return nil
}
