package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/monitor"
	"github.com/jinkaiteo/edms/internal/application/port"
)

// Scanner is the part of the stale monitor the worker drives
type Scanner interface {
	Scan(ctx context.Context, now time.Time) ([]monitor.Alert, error)
}

// MonitorWorker periodically scans for stale reviews
type MonitorWorker struct {
	scanner  Scanner
	clock    port.Clock
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitorWorker creates a monitor worker
func NewMonitorWorker(scanner Scanner, clock port.Clock, interval time.Duration, logger *zap.Logger) *MonitorWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if clock == nil {
		clock = port.SystemClock
	}
	return &MonitorWorker{scanner: scanner, clock: clock, interval: interval, logger: logger}
}

// Name returns the worker name for identification
func (w *MonitorWorker) Name() string {
	return "MonitorWorker"
}

// Start launches the scan loop
func (w *MonitorWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("monitor worker is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("MonitorWorker started", zap.Duration("interval", w.interval))

	go w.loop(runCtx, w.done)
	return nil
}

// Stop ends the scan loop and waits for it
func (w *MonitorWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("MonitorWorker stopped")
	return nil
}

func (w *MonitorWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *MonitorWorker) scan(ctx context.Context) {
	alerts, err := w.scanner.Scan(ctx, w.clock.Now())
	if err != nil {
		w.logger.Error("Stale scan failed", zap.Error(err))
		return
	}
	if len(alerts) > 0 {
		w.logger.Info("Stale scan completed", zap.Int("overdue", len(alerts)))
	}
}
