package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/application/scheduler"
)

// Sweeper is the part of the scheduler the sweep worker drives
type Sweeper interface {
	RunLocked(ctx context.Context, lock port.SweepLock, asOf time.Time) (*scheduler.SweepReport, error)
}

// SweepWorkerConfig configures the daily sweep
type SweepWorkerConfig struct {
	// Spec is a standard five-field cron expression
	Spec       string
	Location   *time.Location
	RunOnStart bool
	Timeout    time.Duration
}

// SweepWorker runs the due-date sweep on a cron schedule
type SweepWorker struct {
	sweeper Sweeper
	lock    port.SweepLock
	clock   port.Clock
	cfg     SweepWorkerConfig
	logger  *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	running   sync.WaitGroup
}

// NewSweepWorker creates a sweep worker
func NewSweepWorker(sweeper Sweeper, lock port.SweepLock, clock port.Clock, cfg SweepWorkerConfig, logger *zap.Logger) *SweepWorker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Spec == "" {
		cfg.Spec = "0 1 * * *"
	}
	if clock == nil {
		clock = port.SystemClock
	}
	return &SweepWorker{sweeper: sweeper, lock: lock, clock: clock, cfg: cfg, logger: logger}
}

// Name returns the worker name for identification
func (w *SweepWorker) Name() string {
	return "SweepWorker"
}

// Start schedules the sweep
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("sweep worker is already running")
	}

	c := cron.New(cron.WithLocation(w.cfg.Location), cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})))
	if _, err := c.AddFunc(w.cfg.Spec, w.tick); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.cfg.Spec, err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cron = c
	w.isRunning = true
	c.Start()

	w.logger.Info("SweepWorker started",
		zap.String("schedule", w.cfg.Spec),
		zap.String("timezone", w.cfg.Location.String()),
		zap.Bool("run_on_start", w.cfg.RunOnStart))

	// Catch up a sweep missed while the service was down
	if w.cfg.RunOnStart {
		w.running.Add(1)
		go func() {
			defer w.running.Done()
			w.RunOnce(w.ctx)
		}()
	}
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	c := w.cron
	w.cancel()
	w.mu.Unlock()

	<-c.Stop().Done()
	w.running.Wait()
	w.logger.Info("SweepWorker stopped")
	return nil
}

func (w *SweepWorker) tick() {
	w.running.Add(1)
	defer w.running.Done()
	w.RunOnce(w.ctx)
}

// RunOnce performs a sweep for today in the configured timezone
func (w *SweepWorker) RunOnce(ctx context.Context) {
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	today := w.clock.Now().In(w.cfg.Location)
	report, err := w.sweeper.RunLocked(ctx, w.lock, today)
	switch {
	case errors.Is(err, scheduler.ErrSweepInProgress):
		w.logger.Info("Sweep skipped, another sweep holds the lock")
	case err != nil:
		w.logger.Error("Sweep failed", zap.Error(err))
	case report.Failed > 0:
		w.logger.Warn("Sweep finished with failures",
			zap.Int("failed", report.Failed),
			zap.Int("transitioned", report.Transitioned))
	}
}

// cronLogger adapts zap to robfig/cron's logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
