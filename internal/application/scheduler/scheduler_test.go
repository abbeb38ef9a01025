package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-command/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/authz"
	"github.com/jinkaiteo/edms/internal/application/conflict"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/application/workflow"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
	"github.com/jinkaiteo/edms/internal/infrastructure/persistence/memory"
)

var fixedNow = time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func setup(t *testing.T) (*memory.Store, workflow.WorkflowEngine) {
	t.Helper()
	store := memory.NewStore()
	detector := conflict.NewDetector(store, store, zap.NewNop())
	engine := workflow.NewEngine(store, store, store,
		authz.NewGate(store, zap.NewNop()),
		workflow.BuildDocumentTable(detector),
		workflow.WithClock(port.ClockFunc(func() time.Time { return fixedNow })))
	return store, engine
}

func seed(t *testing.T, store *memory.Store, id string, minor int, st domainwf.State, mutate func(*entity.Document)) {
	t.Helper()
	doc := &entity.Document{
		ID:           id,
		Number:       "DOC-2025-0001",
		Title:        "Line clearance SOP",
		MajorVersion: 0,
		MinorVersion: minor,
		Status:       string(st),
		AuthorID:     "alice",
		ReviewerID:   "rita",
		ApproverID:   "carol",
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
	if mutate != nil {
		mutate(doc)
	}
	wf := &entity.Workflow{
		ID:             "wf-" + id,
		DocumentID:     id,
		CurrentState:   string(st),
		VersionStamp:   1,
		StateEnteredAt: fixedNow,
		UpdatedAt:      fixedNow,
	}
	require.NoError(t, store.Create(context.Background(), doc, wf))
}

func stateOf(t *testing.T, store *memory.Store, id string) domainwf.State {
	t.Helper()
	_, wf, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	return domainwf.State(wf.CurrentState)
}

func TestRunDueSweep_MakesEffectiveAndSupersedes(t *testing.T) {
	store, engine := setup(t)
	ctx := context.Background()

	seed(t, store, "v09", 9, domainwf.StateApprovedAndEffective, func(d *entity.Document) {
		d.EffectiveDate = entity.DatePtr(day("2025-01-01"))
	})
	seed(t, store, "v10", 10, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.MajorVersion, d.MinorVersion = 1, 0
		d.EffectiveDate = entity.DatePtr(day("2025-03-01"))
	})

	s := New(store, engine, nil, Config{Concurrency: 2, Retry: runner.NoDelayStrategy{}}, zap.NewNop())

	report, err := s.RunDueSweep(ctx, day("2025-02-28"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Examined)
	assert.Equal(t, domainwf.StateApprovedPendingEffective, stateOf(t, store, "v10"))

	report, err = s.RunDueSweep(ctx, day("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Transitioned)
	assert.Equal(t, domainwf.StateApprovedAndEffective, stateOf(t, store, "v10"))
	assert.Equal(t, domainwf.StateSuperseded, stateOf(t, store, "v09"))

	history, err := store.History(ctx, "v10")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.SystemActorID, history[0].ActorID)
	assert.Equal(t, string(domainwf.ActionMakeEffective), history[0].Action)
	assert.Equal(t, "2025-03-01", history[0].Payload[entity.PayloadAsOf])
}

func TestRunDueSweep_IsIdempotent(t *testing.T) {
	store, engine := setup(t)
	ctx := context.Background()

	seed(t, store, "eff", 1, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.Number = "DOC-2025-0002"
		d.EffectiveDate = entity.DatePtr(day("2025-02-01"))
	})
	seed(t, store, "obs", 1, domainwf.StateScheduledForObsolescence, func(d *entity.Document) {
		d.Number = "DOC-2025-0003"
		d.ObsoleteDate = entity.DatePtr(day("2025-02-15"))
	})
	seed(t, store, "later", 1, domainwf.StateScheduledForObsolescence, func(d *entity.Document) {
		d.Number = "DOC-2025-0004"
		d.ObsoleteDate = entity.DatePtr(day("2025-06-30"))
	})

	s := New(store, engine, nil, Config{Retry: runner.NoDelayStrategy{}}, nil)

	first, err := s.RunDueSweep(ctx, day("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Transitioned)
	assert.Equal(t, 0, first.Failed)
	assert.Equal(t, domainwf.StateApprovedAndEffective, stateOf(t, store, "eff"))
	assert.Equal(t, domainwf.StateObsolete, stateOf(t, store, "obs"))
	assert.Equal(t, domainwf.StateScheduledForObsolescence, stateOf(t, store, "later"))

	second, err := s.RunDueSweep(ctx, day("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Examined)
	assert.Equal(t, 0, second.Transitioned)

	for _, id := range []string{"eff", "obs"} {
		history, err := store.History(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, 1, id)
	}
}

// conflictingEngine reports a stamp conflict a fixed number of times
type conflictingEngine struct {
	conflicts int32
	calls     atomic.Int32
}

func (e *conflictingEngine) RequestTransition(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	if e.calls.Add(1) <= e.conflicts {
		return nil, domainwf.ConcurrentModification(req.DocumentID, req.ExpectedStamp)
	}
	return &workflow.Result{DocumentID: req.DocumentID, State: req.Target}, nil
}

func (e *conflictingEngine) AvailableTransitions(ctx context.Context, documentID, actorID string) ([]workflow.AvailableTransition, error) {
	return nil, nil
}

func TestRunDueSweep_RetriesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int32
		outcome   Outcome
		attempts  int
	}{
		{"succeeds after two conflicts", 2, OutcomeTransitioned, 3},
		{"gives up after max attempts", 5, OutcomeFailed, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setup(t)
			seed(t, store, "due", 1, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
				d.EffectiveDate = entity.DatePtr(day("2025-02-01"))
			})

			engine := &conflictingEngine{conflicts: tt.conflicts}
			s := New(store, engine, nil, Config{MaxAttempts: 3, Retry: runner.NoDelayStrategy{}}, zap.NewNop())

			report, err := s.RunDueSweep(context.Background(), day("2025-03-01"))
			require.NoError(t, err)
			require.Len(t, report.Results, 1)
			assert.Equal(t, tt.outcome, report.Results[0].Outcome)
			assert.Equal(t, tt.attempts, report.Results[0].Attempts)
		})
	}
}

// recordingRetry remembers what the sweep handed to the retry strategy
type recordingRetry struct {
	attempts []int
	errs     []error
}

func (r *recordingRetry) SleepDuration(attempt int, err error) time.Duration {
	r.attempts = append(r.attempts, attempt)
	r.errs = append(r.errs, err)
	return 0
}

func TestRunDueSweep_RetryStrategySeesConflicts(t *testing.T) {
	store, _ := setup(t)
	seed(t, store, "due", 1, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.EffectiveDate = entity.DatePtr(day("2025-02-01"))
	})

	retry := &recordingRetry{}
	s := New(store, &conflictingEngine{conflicts: 2}, nil, Config{Concurrency: 1, MaxAttempts: 4, Retry: retry}, zap.NewNop())

	report, err := s.RunDueSweep(context.Background(), day("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, report.Results[0].Outcome)

	assert.Equal(t, []int{0, 1}, retry.attempts)
	for _, err := range retry.errs {
		assert.True(t, domainwf.IsConcurrentModification(err), "%v", err)
	}
}

func TestDefaultConfig_Backoff(t *testing.T) {
	strategy, ok := DefaultConfig().Retry.(runner.ExponentialBackoffStrategy)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, strategy.SleepDuration(0, nil))
	assert.Equal(t, 100*time.Millisecond, strategy.SleepDuration(1, nil))
	assert.Equal(t, 2*time.Second, strategy.SleepDuration(10, nil))
}

type stubLock struct {
	held     bool
	unlocked int
}

func (l *stubLock) TryLock() (bool, error) { return !l.held, nil }
func (l *stubLock) Unlock() error          { l.unlocked++; return nil }

func TestRunLocked(t *testing.T) {
	store, engine := setup(t)
	s := New(store, engine, nil, Config{}, nil)

	busy := &stubLock{held: true}
	_, err := s.RunLocked(context.Background(), busy, day("2025-03-01"))
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Equal(t, 0, busy.unlocked)

	free := &stubLock{}
	report, err := s.RunLocked(context.Background(), free, day("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Examined)
	assert.Equal(t, 1, free.unlocked)
}
