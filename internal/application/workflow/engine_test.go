package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/authz"
	"github.com/jinkaiteo/edms/internal/application/conflict"
	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/event"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
	"github.com/jinkaiteo/edms/internal/infrastructure/persistence/memory"
)

var fixedNow = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func day(s string) *time.Time {
	t, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &t
}

// failingAudit wraps the store and fails every Record call
type failingAudit struct{}

func (failingAudit) Record(ctx context.Context, r *entity.TransitionRecord) error {
	return errors.New("audit sink unavailable")
}

type harness struct {
	store  *memory.Store
	engine WorkflowEngine
	table  domainwf.Table
}

func newHarness(t *testing.T, audit port.AuditRecorder, opts ...EngineOption) *harness {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	for actor, role := range map[string]string{
		"alice": entity.RoleAuthor,
		"rita":  entity.RoleReviewer,
		"carol": entity.RoleApprover,
		"paul":  entity.RoleApprover,
		"adam":  entity.RoleAdmin,
	} {
		require.NoError(t, store.Grant(ctx, &entity.RoleAssignment{ActorID: actor, Role: role, GrantedAt: fixedNow}))
	}
	if audit == nil {
		audit = store
	}

	detector := conflict.NewDetector(store, store, zap.NewNop())
	table := BuildDocumentTable(detector)
	opts = append([]EngineOption{WithClock(port.ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	engine := NewEngine(store, audit, store, authz.NewGate(store, zap.NewNop()), table, opts...)
	return &harness{store: store, engine: engine, table: table}
}

func (h *harness) seed(t *testing.T, id, number string, major, minor int, st domainwf.State, mutate func(*entity.Document)) {
	t.Helper()
	doc := &entity.Document{
		ID:           id,
		Number:       number,
		Title:        "Cleaning procedure",
		MajorVersion: major,
		MinorVersion: minor,
		Status:       string(st),
		AuthorID:     "alice",
		ReviewerID:   "rita",
		ApproverID:   "carol",
		CreatedAt:    fixedNow.AddDate(0, -1, 0),
		UpdatedAt:    fixedNow.AddDate(0, -1, 0),
	}
	if mutate != nil {
		mutate(doc)
	}
	wf := &entity.Workflow{
		ID:             "wf-" + id,
		DocumentID:     id,
		CurrentState:   string(st),
		VersionStamp:   1,
		StateEnteredAt: doc.CreatedAt,
		UpdatedAt:      doc.CreatedAt,
	}
	require.NoError(t, h.store.Create(context.Background(), doc, wf))
}

func (h *harness) state(t *testing.T, id string) (domainwf.State, int64) {
	t.Helper()
	_, wf, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return domainwf.State(wf.CurrentState), wf.VersionStamp
}

func (h *harness) request(t *testing.T, id string, target domainwf.State, actor string) (*Result, error) {
	t.Helper()
	_, stamp := h.state(t, id)
	return h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    id,
		ExpectedStamp: stamp,
		Target:        target,
		ActorID:       actor,
	})
}

func TestEngine_EdgesOutsideTableAreInvalid(t *testing.T) {
	h := newHarness(t, nil)

	for _, from := range domainwf.AllStates() {
		for _, to := range domainwf.AllStates() {
			if h.table.Lookup(from, to) != nil {
				continue
			}
			id := "doc-" + string(from) + "-" + string(to)
			h.seed(t, id, "DOC-"+string(from)+"-"+string(to), 1, 0, from, nil)

			_, err := h.request(t, id, to, "adam")
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, domainwf.IsInvalidTransition(err), "%s -> %s: %v", from, to, err)

			st, stamp := h.state(t, id)
			assert.Equal(t, from, st)
			assert.Equal(t, int64(1), stamp)
		}
	}
}

func TestEngine_FullLifecycleToEffective(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateDraft, nil)

	steps := []struct {
		target   domainwf.State
		actor    string
		assignee string
	}{
		{domainwf.StatePendingReview, "alice", "rita"},
		{domainwf.StateUnderReview, "rita", "rita"},
		{domainwf.StateReviewed, "rita", "alice"},
		{domainwf.StatePendingApproval, "alice", "carol"},
	}
	for i, step := range steps {
		res, err := h.request(t, "d1", step.target, step.actor)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.target, res.State)
		assert.Equal(t, int64(i+2), res.VersionStamp)

		_, wf, err := h.store.Load(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, step.assignee, wf.CurrentAssignee)
	}

	res, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    "d1",
		ExpectedStamp: 5,
		Target:        domainwf.StateApprovedAndEffective,
		ActorID:       "carol",
		EffectiveDate: day("2025-03-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedAndEffective, res.State)
	assert.Equal(t, domainwf.ActionApprove, res.Action)

	doc, wf, err := h.store.Load(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, string(domainwf.StateApprovedAndEffective), doc.Status)
	assert.Equal(t, "", wf.CurrentAssignee)
	assert.Equal(t, *day("2025-03-01"), *doc.EffectiveDate)
	assert.Equal(t, *day("2025-03-01"), *doc.ApprovalDate)

	history, err := h.store.History(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, string(domainwf.ActionSubmitForReview), history[0].Action)
	assert.Equal(t, "alice", history[0].ActorID)
	assert.Equal(t, string(domainwf.ActionApprove), history[4].Action)
	assert.Equal(t, "2025-03-01", history[4].Payload[entity.PayloadEffectiveDate])
}

func TestEngine_ApprovalTargetFollowsEffectiveDate(t *testing.T) {
	tests := []struct {
		name      string
		requested domainwf.State
		date      *time.Time
		want      domainwf.State
		reason    string
	}{
		{"today is effective", domainwf.StateApprovedAndEffective, day("2025-03-01"), domainwf.StateApprovedAndEffective, ""},
		{"past is effective even if pending requested", domainwf.StateApprovedPendingEffective, day("2025-02-10"), domainwf.StateApprovedAndEffective, ""},
		{"future is pending", domainwf.StateApprovedAndEffective, day("2025-03-02"), domainwf.StateApprovedPendingEffective, ""},
		{"missing date", domainwf.StateApprovedAndEffective, nil, "", domainwf.ReasonMissingEffectiveDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, nil)

			res, err := h.engine.RequestTransition(context.Background(), Request{
				DocumentID:    "d1",
				ExpectedStamp: 1,
				Target:        tt.requested,
				ActorID:       "carol",
				EffectiveDate: tt.date,
			})
			if tt.reason != "" {
				require.Error(t, err)
				assert.Equal(t, tt.reason, domainwf.GuardReason(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.State)
		})
	}
}

func TestEngine_AuthorizationDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, nil)

	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    "d1",
		ExpectedStamp: 1,
		Target:        domainwf.StateApprovedAndEffective,
		ActorID:       "paul",
		EffectiveDate: day("2025-03-01"),
	})
	require.Error(t, err)
	assert.True(t, domainwf.IsAuthorizationDenied(err))

	st, stamp := h.state(t, "d1")
	assert.Equal(t, domainwf.StatePendingApproval, st)
	assert.Equal(t, int64(1), stamp)
}

func TestEngine_SystemOnlyEdges(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.EffectiveDate = day("2025-02-01")
	})

	_, err := h.request(t, "d1", domainwf.StateApprovedAndEffective, "adam")
	assert.True(t, domainwf.IsAuthorizationDenied(err))

	res, err := h.request(t, "d1", domainwf.StateApprovedAndEffective, entity.SystemActorID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.ActionMakeEffective, res.Action)
}

func TestEngine_MakeEffectiveSupersedesPriorVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "v09", "DOC-2025-0001", 0, 9, domainwf.StateApprovedAndEffective, func(d *entity.Document) {
		d.EffectiveDate = day("2024-06-01")
	})
	h.seed(t, "v10", "DOC-2025-0001", 1, 0, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.EffectiveDate = day("2025-03-01")
	})

	// Day before: not due
	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    "v10",
		ExpectedStamp: 1,
		Target:        domainwf.StateApprovedAndEffective,
		ActorID:       entity.SystemActorID,
		AsOf:          day("2025-02-28"),
	})
	require.Error(t, err)
	assert.Equal(t, domainwf.ReasonEffectiveDateNotDue, domainwf.GuardReason(err))

	st, _ := h.state(t, "v09")
	assert.Equal(t, domainwf.StateApprovedAndEffective, st)

	res, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    "v10",
		ExpectedStamp: 1,
		Target:        domainwf.StateApprovedAndEffective,
		ActorID:       entity.SystemActorID,
		AsOf:          day("2025-03-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v09"}, res.Superseded)

	st, stamp := h.state(t, "v09")
	assert.Equal(t, domainwf.StateSuperseded, st)
	assert.Equal(t, int64(2), stamp)

	history, err := h.store.History(context.Background(), "v09")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, string(domainwf.ActionSupersede), history[0].Action)
	assert.Equal(t, "v10", history[0].Payload[entity.PayloadSupersededBy])
}

func TestEngine_AsOfIgnoredForHumans(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, nil)

	// 2025-03-05 would be "today" if AsOf were honoured, making this edge valid
	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    "d1",
		ExpectedStamp: 1,
		Target:        domainwf.StateApprovedAndEffective,
		ActorID:       "carol",
		EffectiveDate: day("2025-03-05"),
		AsOf:          day("2025-03-05"),
	})
	require.NoError(t, err)
	st, _ := h.state(t, "d1")
	assert.Equal(t, domainwf.StateApprovedPendingEffective, st)
}

func TestEngine_ScheduleObsolescenceGuards(t *testing.T) {
	t.Run("has dependents", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateApprovedAndEffective, nil)
		h.seed(t, "d2", "DOC-2025-0002", 1, 0, domainwf.StateApprovedAndEffective, nil)
		require.NoError(t, h.store.Add(context.Background(), &entity.Dependency{DocumentID: "d2", DependsOnID: "d1"}))

		_, err := h.engine.RequestTransition(context.Background(), Request{
			DocumentID: "d1", ExpectedStamp: 1, Target: domainwf.StateScheduledForObsolescence,
			ActorID: "carol", ObsoleteDate: day("2025-06-30"),
		})
		require.Error(t, err)
		assert.Equal(t, domainwf.ReasonHasDependents, domainwf.GuardReason(err))
	})

	t.Run("version race", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t, "v1", "DOC-2025-0001", 1, 0, domainwf.StateApprovedAndEffective, nil)
		h.seed(t, "v2", "DOC-2025-0001", 1, 1, domainwf.StateUnderReview, nil)

		_, err := h.engine.RequestTransition(context.Background(), Request{
			DocumentID: "v1", ExpectedStamp: 1, Target: domainwf.StateScheduledForObsolescence,
			ActorID: "carol", ObsoleteDate: day("2025-06-30"),
		})
		require.Error(t, err)
		assert.Equal(t, domainwf.ReasonVersionRace, domainwf.GuardReason(err))
	})

	t.Run("obsolete date must be future", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateApprovedAndEffective, nil)

		_, err := h.engine.RequestTransition(context.Background(), Request{
			DocumentID: "d1", ExpectedStamp: 1, Target: domainwf.StateScheduledForObsolescence,
			ActorID: "carol", ObsoleteDate: day("2025-03-01"),
		})
		assert.Equal(t, domainwf.ReasonObsoleteDateNotFuture, domainwf.GuardReason(err))
	})

	t.Run("allowed for any approver", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateApprovedAndEffective, nil)
		h.seed(t, "d2", "DOC-2025-0002", 1, 0, domainwf.StateObsolete, nil)
		require.NoError(t, h.store.Add(context.Background(), &entity.Dependency{DocumentID: "d2", DependsOnID: "d1"}))

		res, err := h.engine.RequestTransition(context.Background(), Request{
			DocumentID: "d1", ExpectedStamp: 1, Target: domainwf.StateScheduledForObsolescence,
			ActorID: "paul", ObsoleteDate: day("2025-06-30"),
		})
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateScheduledForObsolescence, res.State)

		doc, _, err := h.store.Load(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, *day("2025-06-30"), *doc.ObsoleteDate)
	})
}

func TestEngine_TerminateFromNonEffectiveStates(t *testing.T) {
	for _, st := range domainwf.AllStates() {
		t.Run(string(st), func(t *testing.T) {
			h := newHarness(t, nil)
			h.seed(t, "d1", "DOC-2025-0001", 1, 0, st, nil)

			_, err := h.request(t, "d1", domainwf.StateTerminated, "alice")
			if st.IsInFlight() {
				require.NoError(t, err)
				got, _ := h.state(t, "d1")
				assert.Equal(t, domainwf.StateTerminated, got)
				return
			}
			assert.True(t, domainwf.IsInvalidTransition(err))
		})
	}
}

func TestEngine_StaleStampRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateDraft, nil)

	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID: "d1", ExpectedStamp: 7, Target: domainwf.StatePendingReview, ActorID: "alice",
	})
	require.Error(t, err)
	assert.True(t, domainwf.IsConcurrentModification(err))
}

func TestEngine_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateDraft, nil)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.engine.RequestTransition(context.Background(), Request{
				DocumentID: "d1", ExpectedStamp: 1, Target: domainwf.StatePendingReview, ActorID: "alice",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case domainwf.IsConcurrentModification(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	_, stamp := h.state(t, "d1")
	assert.Equal(t, int64(2), stamp)
	history, err := h.store.History(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEngine_AuditFailureRollsBack(t *testing.T) {
	h := newHarness(t, failingAudit{})
	h.seed(t, "v09", "DOC-2025-0001", 0, 9, domainwf.StateApprovedAndEffective, nil)
	h.seed(t, "v10", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, nil)

	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID: "v10", ExpectedStamp: 1, Target: domainwf.StateApprovedAndEffective,
		ActorID: "carol", EffectiveDate: day("2025-03-01"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit sink unavailable")

	st, stamp := h.state(t, "v10")
	assert.Equal(t, domainwf.StatePendingApproval, st)
	assert.Equal(t, int64(1), stamp)

	st, stamp = h.state(t, "v09")
	assert.Equal(t, domainwf.StateApprovedAndEffective, st)
	assert.Equal(t, int64(1), stamp)
}

func TestEngine_RecordsRejectionsWhenEnabled(t *testing.T) {
	h := newHarness(t, nil)

	withPolicy := newHarness(t, nil)
	withPolicy.engine = NewEngine(withPolicy.store, withPolicy.store, withPolicy.store,
		authz.NewGate(withPolicy.store, nil), withPolicy.table,
		WithClock(port.ClockFunc(func() time.Time { return fixedNow })),
		WithRejectionRecorder(withPolicy.store))

	for _, hh := range []*harness{h, withPolicy} {
		hh.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateDraft, func(d *entity.Document) {
			d.ReviewerID = ""
		})
		_, err := hh.engine.RequestTransition(context.Background(), Request{
			DocumentID: "d1", ExpectedStamp: 1, Target: domainwf.StatePendingReview,
			ActorID: "alice", Comment: "please review",
		})
		assert.Equal(t, domainwf.ReasonMissingReviewer, domainwf.GuardReason(err))

		history, err := hh.store.History(context.Background(), "d1")
		require.NoError(t, err)
		assert.Empty(t, history)
	}

	none, err := h.store.Rejections(context.Background(), "d1")
	require.NoError(t, err)
	assert.Empty(t, none)

	recorded, err := withPolicy.store.Rejections(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, domainwf.ErrCodeGuardFailed, recorded[0].ErrorCode)
	assert.Equal(t, domainwf.ReasonMissingReviewer, recorded[0].Reason)
	assert.Equal(t, "please review", recorded[0].Comment)
}

func TestEngine_NotFound(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID: "missing", ExpectedStamp: 1, Target: domainwf.StatePendingReview, ActorID: "alice",
	})
	require.Error(t, err)
	assert.True(t, domainwf.IsNotFound(err))
}

func TestEngine_PublishesEventsAfterCommit(t *testing.T) {
	d := dispatcher.NewDispatcher()
	var (
		mu     sync.Mutex
		events []*event.Event
	)
	collect := func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
		return nil
	}
	d.Subscribe(event.TypeDocumentTransitioned, collect)
	d.Subscribe(event.TypeDocumentSuperseded, collect)

	h := newHarness(t, nil, WithPublisher(d))
	h.seed(t, "v09", "DOC-2025-0001", 0, 9, domainwf.StateApprovedAndEffective, nil)
	h.seed(t, "v10", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, nil)

	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID: "v10", ExpectedStamp: 1, Target: domainwf.StateApprovedAndEffective,
		ActorID: "carol", EffectiveDate: day("2025-03-01"),
	})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.Len(t, events, 2)
	byType := map[event.Type]*event.Event{}
	for _, e := range events {
		byType[e.Type] = e
	}
	transitioned := byType[event.TypeDocumentTransitioned]
	superseded := byType[event.TypeDocumentSuperseded]
	require.NotNil(t, transitioned)
	require.NotNil(t, superseded)
	assert.Equal(t, "v10", transitioned.DocumentID)
	assert.Equal(t, "APPROVED_AND_EFFECTIVE", transitioned.GetPayloadString(event.KeyToState))
	assert.Equal(t, "v09", superseded.DocumentID)
	assert.Equal(t, transitioned.CorrelationID, superseded.CorrelationID)
}

func TestEngine_AvailableTransitions(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, nil)

	forApprover, err := h.engine.AvailableTransitions(context.Background(), "d1", "carol")
	require.NoError(t, err)
	assert.ElementsMatch(t, []AvailableTransition{
		{Target: domainwf.StateApprovedAndEffective, Action: domainwf.ActionApprove},
		{Target: domainwf.StateApprovedPendingEffective, Action: domainwf.ActionApprove},
		{Target: domainwf.StateDraft, Action: domainwf.ActionRejectApproval},
	}, forApprover)

	forAuthor, err := h.engine.AvailableTransitions(context.Background(), "d1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []AvailableTransition{{Target: domainwf.StateTerminated, Action: domainwf.ActionTerminate}}, forAuthor)

	_, err = h.engine.AvailableTransitions(context.Background(), "nope", "alice")
	assert.True(t, domainwf.IsNotFound(err))
}

func TestEngine_MakeEffectiveUsesStoredDate(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.EffectiveDate = day("2025-12-31")
	})

	_, err := h.engine.RequestTransition(context.Background(), Request{
		DocumentID:    "d1",
		ExpectedStamp: 1,
		Target:        domainwf.StateApprovedAndEffective,
		ActorID:       entity.SystemActorID,
		EffectiveDate: day("2025-01-01"),
		AsOf:          day("2025-03-01"),
	})
	require.Error(t, err)
	assert.Equal(t, domainwf.ReasonEffectiveDateNotDue, domainwf.GuardReason(err))

	doc, wf, err := h.store.Load(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, string(domainwf.StateApprovedPendingEffective), wf.CurrentState)
	assert.Equal(t, *day("2025-12-31"), *doc.EffectiveDate)
}

func TestEngine_ApprovalNeedsExplicitDate(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "d1", "DOC-2025-0001", 1, 0, domainwf.StatePendingApproval, func(d *entity.Document) {
		d.EffectiveDate = day("2025-03-01")
	})

	_, err := h.request(t, "d1", domainwf.StateApprovedAndEffective, "carol")
	require.Error(t, err)
	assert.Equal(t, domainwf.ReasonMissingEffectiveDate, domainwf.GuardReason(err))
}

func TestEngine_OlderVersionCannotSupersedeNewer(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "v11", "DOC-2025-0001", 1, 1, domainwf.StatePendingApproval, nil)
	h.seed(t, "v12", "DOC-2025-0001", 1, 2, domainwf.StateApprovedAndEffective, nil)
	h.seed(t, "v10", "DOC-2025-0001", 1, 0, domainwf.StateApprovedPendingEffective, func(d *entity.Document) {
		d.EffectiveDate = day("2025-02-01")
	})

	t.Run("approval", func(t *testing.T) {
		_, err := h.engine.RequestTransition(context.Background(), Request{
			DocumentID: "v11", ExpectedStamp: 1, Target: domainwf.StateApprovedAndEffective,
			ActorID: "carol", EffectiveDate: day("2025-03-01"),
		})
		require.Error(t, err)
		assert.Equal(t, domainwf.ReasonNewerVersionEffective, domainwf.GuardReason(err))

		st, stamp := h.state(t, "v11")
		assert.Equal(t, domainwf.StatePendingApproval, st)
		assert.Equal(t, int64(1), stamp)
	})

	t.Run("sweep", func(t *testing.T) {
		_, err := h.request(t, "v10", domainwf.StateApprovedAndEffective, entity.SystemActorID)
		require.Error(t, err)
		assert.Equal(t, domainwf.ReasonNewerVersionEffective, domainwf.GuardReason(err))
	})

	st, stamp := h.state(t, "v12")
	assert.Equal(t, domainwf.StateApprovedAndEffective, st)
	assert.Equal(t, int64(1), stamp)
}

// interleavingStore starts a competing write right after the first family
// read and reports the state of watchID once that write has landed
type interleavingStore struct {
	*memory.Store
	once    sync.Once
	write   func(ctx context.Context) error
	watchID string
	seen    chan domainwf.State
}

func (s *interleavingStore) ListFamily(ctx context.Context, number string) ([]*entity.Snapshot, error) {
	family, err := s.Store.ListFamily(ctx, number)
	s.once.Do(func() {
		go func() {
			if err := s.write(context.Background()); err != nil {
				close(s.seen)
				return
			}
			_, wf, _ := s.Store.Load(context.Background(), s.watchID)
			s.seen <- domainwf.State(wf.CurrentState)
		}()
		time.Sleep(20 * time.Millisecond)
	})
	return family, err
}

func TestEngine_GuardsSerializeWithConcurrentWrites(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "v10", "DOC-2025-0001", 1, 0, domainwf.StateApprovedAndEffective, nil)

	store := &interleavingStore{
		Store:   h.store,
		watchID: "v10",
		seen:    make(chan domainwf.State, 1),
		write: func(ctx context.Context) error {
			doc := &entity.Document{ID: "v11", Number: "DOC-2025-0001", MajorVersion: 1, MinorVersion: 1,
				Status: string(domainwf.StateDraft), AuthorID: "alice", CreatedAt: fixedNow, UpdatedAt: fixedNow}
			wf := &entity.Workflow{ID: "wf-v11", DocumentID: "v11", CurrentState: string(domainwf.StateDraft),
				VersionStamp: 1, StateEnteredAt: fixedNow, UpdatedAt: fixedNow}
			return h.store.Create(ctx, doc, wf)
		},
	}
	detector := conflict.NewDetector(store, h.store, zap.NewNop())
	engine := NewEngine(store, h.store, h.store, authz.NewGate(h.store, zap.NewNop()), BuildDocumentTable(detector),
		WithClock(port.ClockFunc(func() time.Time { return fixedNow })))

	res, err := engine.RequestTransition(context.Background(), Request{
		DocumentID: "v10", ExpectedStamp: 1, Target: domainwf.StateScheduledForObsolescence,
		ActorID: "carol", ObsoleteDate: day("2025-06-30"),
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateScheduledForObsolescence, res.State)

	// The successor could only be written once obsolescence had committed
	select {
	case st, ok := <-store.seen:
		require.True(t, ok, "successor insert failed")
		assert.Equal(t, domainwf.StateScheduledForObsolescence, st)
	case <-time.After(2 * time.Second):
		t.Fatal("successor insert never completed")
	}
}
