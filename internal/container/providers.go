// Package container provides dependency injection and lifecycle management
// for the document control service.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goliatone/go-command/runner"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/authz"
	"github.com/jinkaiteo/edms/internal/application/conflict"
	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/monitor"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/application/scheduler"
	"github.com/jinkaiteo/edms/internal/application/service"
	"github.com/jinkaiteo/edms/internal/application/workflow"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/infrastructure/lock"
	"github.com/jinkaiteo/edms/internal/infrastructure/notification"
	"github.com/jinkaiteo/edms/internal/infrastructure/persistence/memory"
	"github.com/jinkaiteo/edms/internal/infrastructure/persistence/repository"
	"github.com/jinkaiteo/edms/internal/infrastructure/persistence/sqlite"
	"github.com/jinkaiteo/edms/internal/infrastructure/worker"
	"github.com/jinkaiteo/edms/pkg/database"
)

// DatabaseBundle holds database-related components. SqlDB is nil for the
// in-memory backend.
type DatabaseBundle struct {
	SqlDB     *sql.DB
	Memory    *memory.Store
	TxManager port.TransactionManager
}

// ProvideDatabase opens the configured backend. For sqlite the bundled
// migrations are applied before returning.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &DatabaseBundle{Memory: store, TxManager: store}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:     db.DB,
		TxManager: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories for the opened backend
func ProvideRepositories(bundle *DatabaseBundle, logger *zap.Logger) (*RepositoryBundle, error) {
	if bundle == nil {
		return nil, fmt.Errorf("database bundle is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if bundle.Memory != nil {
		return &RepositoryBundle{
			Documents:    bundle.Memory,
			Audit:        bundle.Memory,
			Dependencies: bundle.Memory,
			Roles:        bundle.Memory,
		}, nil
	}
	if bundle.SqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Documents:    repository.NewDocumentRepository(bundle.SqlDB, logger),
		Audit:        repository.NewAuditRepository(bundle.SqlDB, logger),
		Dependencies: repository.NewDependencyRepository(bundle.SqlDB, logger),
		Roles:        repository.NewRoleRepository(bundle.SqlDB, logger),
	}, nil
}

// SeedRoles grants the configured role assignments. Granting is idempotent so
// this runs on every start.
func SeedRoles(ctx context.Context, roles port.RoleRepository, seeds []entity.RoleAssignment, now time.Time, logger *zap.Logger) error {
	for i := range seeds {
		a := seeds[i]
		if a.GrantedAt.IsZero() {
			a.GrantedAt = now
		}
		if err := roles.Grant(ctx, &a); err != nil {
			return fmt.Errorf("grant %s to %s: %w", a.Role, a.ActorID, err)
		}
	}
	if len(seeds) > 0 {
		logger.Info("Role assignments seeded", zap.Int("count", len(seeds)))
	}
	return nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dispatcherLogger := &dispatcherLoggerAdapter{logger: logger.Named("dispatcher")}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(dispatcherLogger),
	), nil
}

// ApplicationDeps holds dependencies required for the application layer.
type ApplicationDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Config     *Config
	Clock      port.Clock
	Logger     *zap.Logger
}

// ProvideApplication builds the workflow engine and everything layered on it
func ProvideApplication(deps *ApplicationDeps) (*ApplicationBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("application dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = port.SystemClock
	}
	cfg := deps.Config

	detector := conflict.NewDetector(deps.Repos.Documents, deps.Repos.Dependencies, deps.Logger.Named("conflict"))
	gate := authz.NewGate(deps.Repos.Roles, deps.Logger.Named("authz"))

	opts := []workflow.EngineOption{
		workflow.WithPublisher(deps.Dispatcher),
		workflow.WithClock(clock),
		workflow.WithLocation(cfg.Scheduler.Location),
		workflow.WithLogger(deps.Logger.Named("workflow")),
	}
	if cfg.Audit.RecordRejections {
		opts = append(opts, workflow.WithRejectionRecorder(deps.Repos.Audit))
	}
	engine := workflow.NewEngine(
		deps.Repos.Documents,
		deps.Repos.Audit,
		deps.TxManager,
		gate,
		workflow.BuildDocumentTable(detector),
		opts...,
	)

	documents := service.NewDocumentService(
		deps.Repos.Documents,
		deps.Repos.Dependencies,
		deps.Repos.Audit,
		detector,
		gate,
		deps.TxManager,
		clock,
		service.VersionPolicy{
			InitialMajor: cfg.Documents.InitialMajor,
			InitialMinor: cfg.Documents.InitialMinor,
		},
		&zapLoggerAdapter{logger: deps.Logger.Named("documents")},
	)

	sweeper := scheduler.New(deps.Repos.Documents, engine, deps.Dispatcher, scheduler.Config{
		Concurrency: cfg.Scheduler.Concurrency,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		Retry: runner.ExponentialBackoffStrategy{
			Base:   cfg.Scheduler.BackoffBase,
			Factor: cfg.Scheduler.BackoffFactor,
			Max:    cfg.Scheduler.BackoffMax,
		},
	}, deps.Logger.Named("scheduler"))

	stale, err := monitor.New(deps.Repos.Documents, deps.Dispatcher, cfg.Monitor.Thresholds, deps.Logger.Named("monitor"))
	if err != nil {
		return nil, err
	}

	return &ApplicationBundle{
		Detector:  detector,
		Gate:      gate,
		Engine:    engine,
		Documents: documents,
		Scheduler: sweeper,
		Monitor:   stale,
	}, nil
}

// ProvideNotifications subscribes the notification fan-out on the dispatcher.
// Delivery itself is logged; a real channel plugs in through port.Notifier.
func ProvideNotifications(d dispatcher.Dispatcher, store port.DocumentStore, notifier port.Notifier, logger *zap.Logger) *notification.Subscriber {
	if notifier == nil {
		notifier = notification.NewLogNotifier(logger)
	}
	sub := notification.NewSubscriber(notifier, store, logger.Named("notify"))
	sub.Register(d)
	return sub
}

// ProvideSweepLock opens the cross-process sweep lock, or returns nil when
// no lock path is configured.
func ProvideSweepLock(cfg *SchedulerConfig) (port.SweepLock, error) {
	if cfg.LockPath == "" {
		return nil, nil
	}
	fl, err := lock.NewFileLock(cfg.LockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sweep lock: %w", err)
	}
	return fl, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	App       *ApplicationBundle
	SweepLock port.SweepLock
	Config    *Config
	Clock     port.Clock
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers the enabled background workers.
// Returns *worker.WorkerManager with workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.App == nil {
		return nil, fmt.Errorf("application bundle is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	cfg := deps.Config

	if cfg.Scheduler.Enabled {
		manager.Register(worker.NewSweepWorker(
			deps.App.Scheduler,
			deps.SweepLock,
			deps.Clock,
			worker.SweepWorkerConfig{
				Spec:       cfg.Scheduler.Cron,
				Location:   cfg.Scheduler.Location,
				RunOnStart: cfg.Scheduler.RunOnStart,
				Timeout:    cfg.Scheduler.Timeout,
			},
			deps.Logger.Named("sweep"),
		))
	}

	if cfg.Monitor.Enabled {
		manager.Register(worker.NewMonitorWorker(
			deps.App.Monitor,
			deps.Clock,
			cfg.Monitor.Interval,
			deps.Logger.Named("stale"),
		))
	}

	return manager, nil
}
