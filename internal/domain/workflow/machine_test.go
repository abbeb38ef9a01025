package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinkaiteo/edms/internal/domain/entity"
)

func date(s string) time.Time {
	t, err := time.Parse(entity.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	d := date(s)
	return &d
}

func newTransition(state State, today string) *Transition {
	return &Transition{
		Document: &entity.Document{ID: "doc-1", Number: "DOC-2025-0001", AuthorID: "alice"},
		Workflow: &entity.Workflow{ID: "wf-1", DocumentID: "doc-1", CurrentState: string(state), VersionStamp: 1},
		ActorID:  "bob",
		Today:    date(today),
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateDraft, false},
		{StatePendingReview, false},
		{StateUnderReview, false},
		{StateReviewed, false},
		{StatePendingApproval, false},
		{StateApprovedPendingEffective, false},
		{StateApprovedAndEffective, false},
		{StateScheduledForObsolescence, false},
		{StateSuperseded, true},
		{StateObsolete, true},
		{StateTerminated, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.IsTerminal())
		})
	}
}

func TestState_IsInFlight(t *testing.T) {
	inFlight := map[State]bool{
		StateDraft:                    true,
		StatePendingReview:            true,
		StateUnderReview:              true,
		StateReviewed:                 true,
		StatePendingApproval:          true,
		StateApprovedPendingEffective: true,
	}
	for _, s := range AllStates() {
		assert.Equal(t, inFlight[s], s.IsInFlight(), s.String())
	}
	assert.False(t, State("BOGUS").IsInFlight())
}

func TestParseState(t *testing.T) {
	s, err := ParseState("REVIEWED")
	require.NoError(t, err)
	assert.Equal(t, StateReviewed, s)

	_, err = ParseState("CREATED")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidState, ErrorCode(err))
}

func TestBuilder_PanicsOnBadConfiguration(t *testing.T) {
	assert.Panics(t, func() { NewBuilder().Configure(State("INVALID")) })
	assert.Panics(t, func() { NewBuilder().Configure(StateObsolete) })
	assert.Panics(t, func() {
		NewBuilder().Configure(StateDraft).Permit(ActionTerminate, State("INVALID"))
	})
	assert.Panics(t, func() {
		NewBuilder().Configure(StateDraft).
			Permit(ActionTerminate, StateTerminated).
			Permit(ActionTerminate, StateTerminated)
	})
}

func TestTable_Lookup(t *testing.T) {
	b := NewBuilder()
	b.Configure(StateDraft).
		Permit(ActionSubmitForReview, StatePendingReview, WithGuards(RequireReviewer)).
		Permit(ActionTerminate, StateTerminated)
	tbl := b.Build()

	edge := tbl.Lookup(StateDraft, StatePendingReview)
	require.NotNil(t, edge)
	assert.Equal(t, ActionSubmitForReview, edge.Action)
	assert.Len(t, edge.Guards, 1)

	assert.Nil(t, tbl.Lookup(StateDraft, StateReviewed))
	assert.Nil(t, tbl.Lookup(StateReviewed, StateDraft))
	assert.Len(t, tbl.Outgoing(StateDraft), 2)
	assert.Empty(t, tbl.Outgoing(StateTerminated))
}

func TestTable_BuildIsImmutable(t *testing.T) {
	b := NewBuilder()
	cfg := b.Configure(StateDraft)
	cfg.Permit(ActionTerminate, StateTerminated)
	tbl := b.Build()

	cfg.Permit(ActionSubmitForReview, StatePendingReview)

	assert.Nil(t, tbl.Lookup(StateDraft, StatePendingReview))
	assert.NotNil(t, b.Build().Lookup(StateDraft, StatePendingReview))
}

func TestTable_ResolveBySelector(t *testing.T) {
	b := NewBuilder()
	b.Configure(StatePendingApproval).
		Permit(ActionApprove, StateApprovedAndEffective, WithSelector(EffectiveNow)).
		Permit(ActionApprove, StateApprovedPendingEffective, WithSelector(EffectiveLater)).
		Permit(ActionRejectApproval, StateDraft)
	tbl := b.Build()

	tests := []struct {
		name      string
		effective *time.Time
		requested State
		expected  State
	}{
		{"today requested now", datePtr("2025-03-01"), StateApprovedAndEffective, StateApprovedAndEffective},
		{"today requested later", datePtr("2025-03-01"), StateApprovedPendingEffective, StateApprovedAndEffective},
		{"past date", datePtr("2025-01-15"), StateApprovedPendingEffective, StateApprovedAndEffective},
		{"future requested now", datePtr("2025-03-02"), StateApprovedAndEffective, StateApprovedPendingEffective},
		{"missing date keeps requested", nil, StateApprovedPendingEffective, StateApprovedPendingEffective},
		{"unrelated edge", nil, StateDraft, StateDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTransition(StatePendingApproval, "2025-03-01")
			tr.EffectiveDate = tt.effective
			edge := tbl.Resolve(tr, tt.requested)
			require.NotNil(t, edge)
			assert.Equal(t, tt.expected, edge.To)
		})
	}

	tr := newTransition(StatePendingApproval, "2025-03-01")
	assert.Nil(t, tbl.Resolve(tr, StateObsolete))
}

func TestDateGuards(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		guard    GuardFunc
		setup    func(tr *Transition)
		expected string
	}{
		{"reviewer missing", RequireReviewer, func(tr *Transition) {}, ReasonMissingReviewer},
		{"reviewer present", RequireReviewer, func(tr *Transition) { tr.Document.ReviewerID = "rita" }, ""},
		{"approver missing", RequireApprover, func(tr *Transition) {}, ReasonMissingApprover},
		{"effective missing", RequireEffectiveDate, func(tr *Transition) {}, ReasonMissingEffectiveDate},
		{"planned date does not count as approval date", RequireEffectiveDate, func(tr *Transition) {
			tr.Document.EffectiveDate = datePtr("2025-03-01")
		}, ReasonMissingEffectiveDate},
		{"approval date due", ApprovedEffectiveDateDue, func(tr *Transition) {
			tr.EffectiveDate = datePtr("2025-03-01")
		}, ""},
		{"approval date not due", ApprovedEffectiveDateDue, func(tr *Transition) {
			tr.EffectiveDate = datePtr("2025-03-02")
		}, ReasonEffectiveDateNotDue},
		{"stored effective due", EffectiveDateDue, func(tr *Transition) {
			tr.Document.EffectiveDate = datePtr("2025-03-01")
		}, ""},
		{"stored effective not due", EffectiveDateDue, func(tr *Transition) {
			tr.Document.EffectiveDate = datePtr("2025-03-02")
		}, ReasonEffectiveDateNotDue},
		{"requested date cannot pull stored date forward", EffectiveDateDue, func(tr *Transition) {
			tr.Document.EffectiveDate = datePtr("2025-12-31")
			tr.EffectiveDate = datePtr("2025-01-01")
		}, ReasonEffectiveDateNotDue},
		{"effective not future", EffectiveDateFuture, func(tr *Transition) {
			tr.EffectiveDate = datePtr("2025-03-01")
		}, ReasonEffectiveDateNotFuture},
		{"obsolete missing", RequireFutureObsoleteDate, func(tr *Transition) {}, ReasonMissingObsoleteDate},
		{"obsolete today is not future", RequireFutureObsoleteDate, func(tr *Transition) {
			tr.ObsoleteDate = datePtr("2025-03-01")
		}, ReasonObsoleteDateNotFuture},
		{"obsolete future", RequireFutureObsoleteDate, func(tr *Transition) {
			tr.ObsoleteDate = datePtr("2025-06-30")
		}, ""},
		{"obsolete not due", ObsoleteDateDue, func(tr *Transition) {
			tr.Document.ObsoleteDate = datePtr("2025-03-02")
		}, ReasonObsoleteDateNotDue},
		{"obsolete due", ObsoleteDateDue, func(tr *Transition) {
			tr.Document.ObsoleteDate = datePtr("2025-02-01")
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTransition(StatePendingApproval, "2025-03-01")
			tt.setup(tr)
			err := tt.guard(ctx, tr)
			if tt.expected == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsGuardFailed(err))
			assert.Equal(t, tt.expected, GuardReason(err))
		})
	}
}

func TestEffects_RecordApproval(t *testing.T) {
	tr := newTransition(StatePendingApproval, "2025-03-01")
	tr.EffectiveDate = datePtr("2025-04-01")
	tr.Edge = &Edge{From: StatePendingApproval, To: StateApprovedPendingEffective, Action: ActionApprove}
	tr.Workflow.CurrentAssignee = "carol"

	plan := NewPlan(tr, time.Now())
	require.NoError(t, RecordApproval(context.Background(), tr, plan))
	require.NoError(t, ClearAssignee(context.Background(), tr, plan))

	assert.Equal(t, string(StateApprovedPendingEffective), plan.Change.ToState)
	assert.Equal(t, "", plan.Change.Assignee)
	require.NotNil(t, plan.Change.ApprovalDate)
	assert.Equal(t, date("2025-03-01"), *plan.Change.ApprovalDate)
	assert.Equal(t, date("2025-04-01"), *plan.Change.EffectiveDate)
	assert.Equal(t, "2025-04-01", plan.Payload[entity.PayloadEffectiveDate])
}

func TestErrors_CodesAndReasons(t *testing.T) {
	err := GuardFailed(ReasonHasDependents, "DOC-2025-0002")
	assert.Equal(t, ErrCodeGuardFailed, ErrorCode(err))
	assert.Equal(t, ReasonHasDependents, GuardReason(err))
	assert.Contains(t, err.Error(), "has_dependents")

	assert.True(t, IsInvalidTransition(InvalidTransition("d", StateDraft, StateObsolete)))
	assert.True(t, IsAuthorizationDenied(AuthorizationDenied("eve", ActionApprove, "d")))
	assert.True(t, IsConcurrentModification(ConcurrentModification("d", 3)))
	assert.True(t, IsNotFound(NotFound("document", "d", nil)))
	assert.True(t, IsVersionConflict(VersionConflict("DOC-2025-0001", nil)))

	assert.Equal(t, "", GuardReason(ConcurrentModification("d", 3)))
	assert.Equal(t, "", ErrorCode(context.Canceled))
}
