package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-command/runner"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/application/workflow"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/event"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

// dueTransition pairs a date-triggered source state with its target
type dueTransition struct {
	from domainwf.State
	to   domainwf.State
}

var dueTransitions = []dueTransition{
	{domainwf.StateApprovedPendingEffective, domainwf.StateApprovedAndEffective},
	{domainwf.StateScheduledForObsolescence, domainwf.StateObsolete},
}

const sweepComment = "scheduled sweep"

// Config tunes a sweep. Retry decides the wait before each repeated
// attempt on a document that hit a stamp conflict.
type Config struct {
	Concurrency int
	MaxAttempts int
	Retry       runner.RetryStrategy
}

// DefaultConfig returns the sweep defaults
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MaxAttempts: 3,
		Retry:       runner.ExponentialBackoffStrategy{Base: 50 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
	}
}

// Outcome classifies what a sweep did with one document
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
)

// DocumentResult is the per-document line of a sweep report
type DocumentResult struct {
	DocumentID string         `json:"document_id"`
	Label      string         `json:"document"`
	From       domainwf.State `json:"from"`
	To         domainwf.State `json:"to"`
	Outcome    Outcome        `json:"outcome"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
}

// SweepReport summarises one sweep
type SweepReport struct {
	AsOf         time.Time        `json:"as_of"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Examined     int              `json:"examined"`
	Transitioned int              `json:"transitioned"`
	Skipped      int              `json:"skipped"`
	Failed       int              `json:"failed"`
	Results      []DocumentResult `json:"results"`
}

// Scheduler applies date-triggered transitions through the engine as the system actor
type Scheduler struct {
	store     port.DocumentStore
	engine    workflow.WorkflowEngine
	publisher dispatcher.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New creates a scheduler
func New(store port.DocumentStore, engine workflow.WorkflowEngine, publisher dispatcher.Publisher, cfg Config, logger *zap.Logger) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Retry == nil {
		cfg.Retry = defaults.Retry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, engine: engine, publisher: publisher, cfg: cfg, logger: logger}
}

// RunDueSweep transitions every document whose effective or obsolete date is
// on or before asOf. Safe to repeat: documents whose source state already
// changed are skipped.
func (s *Scheduler) RunDueSweep(ctx context.Context, asOf time.Time) (*SweepReport, error) {
	asOf = entity.DateOf(asOf)
	report := &SweepReport{AsOf: asOf, StartedAt: time.Now()}

	s.logger.Info("Starting due sweep", zap.String("as_of", asOf.Format(entity.DateLayout)))

	var (
		mu sync.Mutex
		p  = pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	)
	for _, due := range dueTransitions {
		snapshots, err := s.store.ListDue(ctx, string(due.from), asOf)
		if err != nil {
			p.Wait()
			return nil, fmt.Errorf("list due %s: %w", due.from, err)
		}
		for _, snap := range snapshots {
			snap, due := snap, due
			p.Go(func() {
				result := s.process(ctx, snap, due, asOf)
				mu.Lock()
				defer mu.Unlock()
				report.add(result)
			})
		}
	}
	p.Wait()

	report.FinishedAt = time.Now()
	s.logger.Info("Due sweep finished",
		zap.String("as_of", asOf.Format(entity.DateLayout)),
		zap.Int("examined", report.Examined),
		zap.Int("transitioned", report.Transitioned),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	if s.publisher != nil {
		s.publisher.DispatchAsync(ctx, event.NewEvent(event.TypeSweepCompleted, "", map[string]interface{}{
			"as_of":        asOf.Format(entity.DateLayout),
			"examined":     report.Examined,
			"transitioned": report.Transitioned,
			"failed":       report.Failed,
		}))
	}
	return report, ctx.Err()
}

// process re-reads the document and requests its due transition, retrying
// on ConcurrentModification with backoff.
func (s *Scheduler) process(ctx context.Context, snap *entity.Snapshot, due dueTransition, asOf time.Time) DocumentResult {
	result := DocumentResult{
		DocumentID: snap.Document.ID,
		Label:      snap.Document.Label(),
		From:       due.from,
		To:         due.to,
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1
		if attempt > 0 {
			if err := sleepContext(ctx, s.cfg.Retry.SleepDuration(attempt-1, lastErr)); err != nil {
				lastErr = err
				break
			}
		}

		_, wf, err := s.store.Load(ctx, snap.Document.ID)
		if err != nil {
			lastErr = err
			break
		}
		if domainwf.State(wf.CurrentState) != due.from {
			result.Outcome = OutcomeSkipped
			return result
		}

		_, err = s.engine.RequestTransition(ctx, workflow.Request{
			DocumentID:    snap.Document.ID,
			ExpectedStamp: wf.VersionStamp,
			Target:        due.to,
			ActorID:       entity.SystemActorID,
			Comment:       sweepComment,
			AsOf:          &asOf,
		})
		if err == nil {
			result.Outcome = OutcomeTransitioned
			return result
		}
		lastErr = err
		if !domainwf.IsConcurrentModification(err) {
			break
		}
		s.logger.Debug("Stamp conflict during sweep, retrying",
			zap.String("document_id", snap.Document.ID),
			zap.Int("attempt", result.Attempts))
	}

	result.Outcome = OutcomeFailed
	if lastErr != nil {
		result.Error = lastErr.Error()
	}

	fields := []zap.Field{
		zap.String("document_id", snap.Document.ID),
		zap.String("document", result.Label),
		zap.String("target", string(due.to)),
		zap.Int("attempts", result.Attempts),
		zap.Error(lastErr),
	}
	switch {
	case domainwf.IsConcurrentModification(lastErr):
		s.logger.Warn("Could not transition document after retries", fields...)
	case errors.Is(lastErr, context.Canceled), errors.Is(lastErr, context.DeadlineExceeded):
		s.logger.Warn("Sweep interrupted", fields...)
	default:
		s.logger.Error("Scheduled transition failed", fields...)
	}
	return result
}

func (r *SweepReport) add(res DocumentResult) {
	r.Examined++
	switch res.Outcome {
	case OutcomeTransitioned:
		r.Transitioned++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// ErrSweepInProgress is returned by RunLocked when another sweep holds the lock
var ErrSweepInProgress = errors.New("another sweep is in progress")

// RunLocked runs RunDueSweep while holding lock. The lock only prevents
// duplicate work; the stamp check keeps overlapping sweeps correct anyway.
func (s *Scheduler) RunLocked(ctx context.Context, lock port.SweepLock, asOf time.Time) (*SweepReport, error) {
	if lock == nil {
		return s.RunDueSweep(ctx, asOf)
	}
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, ErrSweepInProgress
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()
	return s.RunDueSweep(ctx, asOf)
}
