package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/authz"
	"github.com/jinkaiteo/edms/internal/application/conflict"
	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/monitor"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/application/scheduler"
	"github.com/jinkaiteo/edms/internal/application/service"
	"github.com/jinkaiteo/edms/internal/application/workflow"
	"github.com/jinkaiteo/edms/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  port.Clock

	// Infrastructure - Data
	sqlDB        *sql.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle
	sweepLock    port.SweepLock

	// Application
	dispatcher dispatcher.Dispatcher
	app        *ApplicationBundle
	notifier   port.Notifier

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Documents    port.DocumentStore
	Audit        port.AuditRepository
	Dependencies port.DependencyRepository
	Roles        port.RoleRepository
}

// ApplicationBundle groups the application layer.
type ApplicationBundle struct {
	Detector  *conflict.Detector
	Gate      *authz.Gate
	Engine    workflow.WorkflowEngine
	Documents service.DocumentService
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option customises a container before Start
type Option func(*Container)

// WithClock replaces the wall clock used by the engine, services and workers
func WithClock(clock port.Clock) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// WithNotifier replaces the logging notifier
func WithNotifier(n port.Notifier) Option {
	return func(c *Container) {
		c.notifier = n
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  port.SystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database, repositories and role seeds
// 2. Event dispatcher
// 3. Workflow engine and application services
// 4. Notification subscribers
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: Initialize dispatcher
	d, err := ProvideDispatcher(c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.dispatcher = d
	c.logger.Info("Dispatcher initialized")

	// Step 3: Initialize application layer
	if err := c.initApplication(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	c.logger.Info("Application initialized")

	// Step 4: Subscribe notifications
	ProvideNotifications(c.dispatcher, c.repositories.Documents, c.notifier, c.logger)
	c.logger.Info("Notification subscribers registered")

	// Step 5: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers so no sweep is mid-flight when the database closes
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Drain async handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Close database
	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if errs != nil {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(multierr.Errors(errs))))
		return errs
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.sqlDB != nil:
		if err := c.sqlDB.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	case c.repositories != nil:
		set("database", true, "in-memory")
	default:
		set("database", false, "not initialized")
	}

	if c.workers != nil {
		running := c.workers.IsRunning() || c.workers.GetWorkerCount() == 0
		set("workers", running, fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	if c.app != nil {
		set("workflow", true, "")
	} else {
		set("workflow", false, "not initialized")
	}

	return status
}

// Healthy flattens Health for callers that only need a verdict per component
func (c *Container) Healthy() (bool, map[string]string) {
	h := c.Health()
	out := make(map[string]string, len(h.Components))
	for name, comp := range h.Components {
		switch {
		case !comp.Healthy && comp.Message != "":
			out[name] = "unhealthy: " + comp.Message
		case !comp.Healthy:
			out[name] = "unhealthy"
		default:
			out[name] = "ok"
		}
	}
	return h.Overall, out
}

// initDatabase opens the backend, builds repositories and seeds roles.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = dbBundle.SqlDB
	c.txManager = dbBundle.TxManager

	repos, err := ProvideRepositories(dbBundle, c.logger)
	if err != nil {
		c.closeDB()
		return err
	}
	c.repositories = repos

	if err := SeedRoles(c.ctx, repos.Roles, c.config.Authorization.Roles, c.clock.Now(), c.logger); err != nil {
		c.closeDB()
		return err
	}
	return nil
}

func (c *Container) initApplication() error {
	app, err := ProvideApplication(&ApplicationDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Config:     c.config,
		Clock:      c.clock,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.app = app

	sweepLock, err := ProvideSweepLock(&c.config.Scheduler)
	if err != nil {
		return err
	}
	c.sweepLock = sweepLock
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		App:       c.app,
		SweepLock: c.sweepLock,
		Config:    c.config,
		Clock:     c.clock,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if workers.GetWorkerCount() == 0 {
		return nil
	}
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

func (c *Container) closeDB() {
	if c.sqlDB != nil {
		_ = c.sqlDB.Close()
		c.sqlDB = nil
	}
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.app.Engine
}

// Documents returns the document service.
func (c *Container) Documents() service.DocumentService {
	return c.app.Documents
}

// Scheduler returns the due-date sweeper.
func (c *Container) Scheduler() *scheduler.Scheduler {
	return c.app.Scheduler
}

// Monitor returns the stale-review monitor.
func (c *Container) Monitor() *monitor.Monitor {
	return c.app.Monitor
}

// SweepLock returns the cross-process sweep lock, nil when disabled.
func (c *Container) SweepLock() port.SweepLock {
	return c.sweepLock
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Clock returns the clock shared by all components.
func (c *Container) Clock() port.Clock {
	return c.clock
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// KVLogger returns a key-value logger for adapters that take the minimal
// Info/Error interface.
func (c *Container) KVLogger(name string) service.Logger {
	return &zapLoggerAdapter{logger: c.logger.Named(name)}
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// dispatcherLoggerAdapter adapts zap.Logger to the dispatcher.Logger interface.
type dispatcherLoggerAdapter struct {
	logger *zap.Logger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
