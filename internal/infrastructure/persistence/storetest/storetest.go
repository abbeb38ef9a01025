// Package storetest holds behavioural checks shared by every persistence
// backend. Each backend's tests call Run with a factory for fresh stores.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// Backend bundles the ports a persistence implementation provides
type Backend struct {
	Documents    port.DocumentStore
	Audit        port.AuditRepository
	Dependencies port.DependencyRepository
	Roles        port.RoleRepository
	Tx           port.TransactionManager
}

// Factory returns an empty backend for one test
type Factory func(t *testing.T) Backend

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Document builds a document/workflow pair in st
func Document(id, number string, major, minor int, st workflow.State) (*entity.Document, *entity.Workflow) {
	doc := &entity.Document{
		ID:           id,
		Number:       number,
		Title:        "Title " + id,
		MajorVersion: major,
		MinorVersion: minor,
		Status:       string(st),
		AuthorID:     "alice",
		ReviewerID:   "rita",
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	wf := &entity.Workflow{
		ID:             "wf-" + id,
		DocumentID:     id,
		CurrentState:   string(st),
		VersionStamp:   1,
		StateEnteredAt: base,
		UpdatedAt:      base,
	}
	return doc, wf
}

func date(s string) *time.Time {
	t, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &t
}

// Run executes the shared checks against backends produced by newBackend
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, newBackend(t)) })
	t.Run("DuplicateVersion", func(t *testing.T) { testDuplicateVersion(t, newBackend(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newBackend(t)) })
	t.Run("UpdateAssignments", func(t *testing.T) { testUpdateAssignments(t, newBackend(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { testTransactionRollback(t, newBackend(t)) })
	t.Run("Queries", func(t *testing.T) { testQueries(t, newBackend(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newBackend(t)) })
	t.Run("Dependencies", func(t *testing.T) { testDependencies(t, newBackend(t)) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, newBackend(t)) })
}

func testCreateAndLoad(t *testing.T, b Backend) {
	ctx := context.Background()
	doc, wf := Document("d1", "DOC-2025-0001", 0, 1, workflow.StateDraft)
	doc.EffectiveDate = date("2025-04-01")
	require.NoError(t, b.Documents.Create(ctx, doc, wf))

	gotDoc, gotWf, err := b.Documents.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "DOC-2025-0001", gotDoc.Number)
	assert.Equal(t, "v0.1", gotDoc.Version())
	assert.Equal(t, "rita", gotDoc.ReviewerID)
	require.NotNil(t, gotDoc.EffectiveDate)
	assert.Equal(t, "2025-04-01", gotDoc.EffectiveDate.Format(entity.DateLayout))
	assert.Nil(t, gotDoc.ObsoleteDate)
	assert.Equal(t, string(workflow.StateDraft), gotWf.CurrentState)
	assert.Equal(t, int64(1), gotWf.VersionStamp)
	assert.True(t, base.Equal(gotWf.StateEnteredAt))

	_, _, err = b.Documents.Load(ctx, "missing")
	assert.True(t, errors.Is(err, port.ErrNotFound))
}

func testDuplicateVersion(t *testing.T, b Backend) {
	ctx := context.Background()
	doc, wf := Document("d1", "DOC-2025-0001", 1, 0, workflow.StateDraft)
	require.NoError(t, b.Documents.Create(ctx, doc, wf))

	dup, dupWf := Document("d2", "DOC-2025-0001", 1, 0, workflow.StateDraft)
	err := b.Documents.Create(ctx, dup, dupWf)
	assert.True(t, errors.Is(err, port.ErrDuplicateVersion), "got %v", err)
}

func testCompareAndSwap(t *testing.T, b Backend) {
	ctx := context.Background()
	doc, wf := Document("d1", "DOC-2025-0001", 0, 1, workflow.StatePendingApproval)
	require.NoError(t, b.Documents.Create(ctx, doc, wf))

	later := base.Add(time.Hour)
	change := entity.StateChange{
		ToState:       string(workflow.StateApprovedPendingEffective),
		EffectiveDate: date("2025-04-01"),
		ApprovalDate:  date("2025-03-01"),
		ChangedAt:     later,
	}

	ok, err := b.Documents.CompareAndSwap(ctx, "d1", 7, change)
	require.NoError(t, err)
	assert.False(t, ok, "stale stamp must not apply")

	ok, err = b.Documents.CompareAndSwap(ctx, "d1", 1, change)
	require.NoError(t, err)
	assert.True(t, ok)

	gotDoc, gotWf, err := b.Documents.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApprovedPendingEffective), gotWf.CurrentState)
	assert.Equal(t, string(workflow.StateApprovedPendingEffective), gotDoc.Status)
	assert.Equal(t, int64(2), gotWf.VersionStamp)
	assert.True(t, later.Equal(gotWf.StateEnteredAt))
	assert.Equal(t, "", gotWf.CurrentAssignee)
	require.NotNil(t, gotDoc.ApprovalDate)
	assert.Equal(t, "2025-03-01", gotDoc.ApprovalDate.Format(entity.DateLayout))

	ok, err = b.Documents.CompareAndSwap(ctx, "d1", 1, change)
	require.NoError(t, err)
	assert.False(t, ok, "a stamp can only be used once")
}

func testUpdateAssignments(t *testing.T, b Backend) {
	ctx := context.Background()
	doc, wf := Document("d1", "DOC-2025-0001", 0, 1, workflow.StateDraft)
	require.NoError(t, b.Documents.Create(ctx, doc, wf))

	ok, err := b.Documents.UpdateAssignments(ctx, "d1", 1, "ravi", "carol", base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Documents.UpdateAssignments(ctx, "d1", 1, "rita", "", base)
	require.NoError(t, err)
	assert.False(t, ok)

	gotDoc, gotWf, err := b.Documents.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "ravi", gotDoc.ReviewerID)
	assert.Equal(t, "carol", gotDoc.ApproverID)
	assert.Equal(t, int64(2), gotWf.VersionStamp)
}

func testTransactionRollback(t *testing.T, b Backend) {
	ctx := context.Background()
	doc, wf := Document("d1", "DOC-2025-0001", 0, 1, workflow.StateDraft)
	require.NoError(t, b.Documents.Create(ctx, doc, wf))

	boom := errors.New("boom")
	err := b.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := b.Documents.CompareAndSwap(txCtx, "d1", 1, entity.StateChange{ToState: string(workflow.StateTerminated), ChangedAt: base})
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, b.Audit.Record(txCtx, &entity.TransitionRecord{
			WorkflowID: "wf-d1", DocumentID: "d1",
			FromState: string(workflow.StateDraft), ToState: string(workflow.StateTerminated),
			Action: string(workflow.ActionTerminate), ActorID: "alice", Timestamp: base,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, gotWf, err := b.Documents.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateDraft), gotWf.CurrentState)
	assert.Equal(t, int64(1), gotWf.VersionStamp)

	history, err := b.Audit.History(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testQueries(t *testing.T, b Backend) {
	ctx := context.Background()
	seed := []struct {
		id, number   string
		major, minor int
		st           workflow.State
		mutate       func(*entity.Document, *entity.Workflow)
	}{
		{"a1", "DOC-2025-0001", 0, 9, workflow.StateApprovedAndEffective, nil},
		{"a2", "DOC-2025-0001", 1, 0, workflow.StateApprovedPendingEffective, func(d *entity.Document, _ *entity.Workflow) {
			d.EffectiveDate = date("2025-03-01")
		}},
		{"b1", "DOC-2025-0002", 1, 0, workflow.StateApprovedPendingEffective, func(d *entity.Document, _ *entity.Workflow) {
			d.EffectiveDate = date("2025-03-02")
		}},
		{"c1", "DOC-2025-0012", 1, 0, workflow.StateScheduledForObsolescence, func(d *entity.Document, _ *entity.Workflow) {
			d.ObsoleteDate = date("2025-02-28")
		}},
		{"r1", "DOC-2024-0040", 0, 1, workflow.StateUnderReview, func(_ *entity.Document, wf *entity.Workflow) {
			wf.StateEnteredAt = base.AddDate(0, 0, -10)
		}},
	}
	for _, s := range seed {
		doc, wf := Document(s.id, s.number, s.major, s.minor, s.st)
		if s.mutate != nil {
			s.mutate(doc, wf)
		}
		require.NoError(t, b.Documents.Create(ctx, doc, wf))
	}

	family, err := b.Documents.ListFamily(ctx, "DOC-2025-0001")
	require.NoError(t, err)
	require.Len(t, family, 2)
	assert.Equal(t, "a1", family[0].Document.ID)
	assert.Equal(t, "a2", family[1].Document.ID)

	due, err := b.Documents.ListDue(ctx, string(workflow.StateApprovedPendingEffective), base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a2", due[0].Document.ID)

	due, err = b.Documents.ListDue(ctx, string(workflow.StateScheduledForObsolescence), base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].Document.ID)

	stale, err := b.Documents.ListEnteredBefore(ctx, string(workflow.StateUnderReview), base.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "r1", stale[0].Document.ID)

	seq, err := b.Documents.MaxFamilySequence(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 12, seq)

	seq, err = b.Documents.MaxFamilySequence(ctx, 2023)
	require.NoError(t, err)
	assert.Equal(t, 0, seq)
}

func testAudit(t *testing.T, b Backend) {
	ctx := context.Background()
	doc, wf := Document("d1", "DOC-2025-0001", 0, 1, workflow.StateDraft)
	require.NoError(t, b.Documents.Create(ctx, doc, wf))

	for i, to := range []workflow.State{workflow.StatePendingReview, workflow.StateUnderReview} {
		require.NoError(t, b.Audit.Record(ctx, &entity.TransitionRecord{
			WorkflowID: "wf-d1",
			DocumentID: "d1",
			FromState:  string(workflow.StateDraft),
			ToState:    string(to),
			Action:     string(workflow.ActionSubmitForReview),
			ActorID:    "alice",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Comment:    "ready",
			Payload:    map[string]interface{}{entity.PayloadVersion: "v0.1"},
		}))
	}

	history, err := b.Audit.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(workflow.StatePendingReview), history[0].ToState)
	assert.Equal(t, string(workflow.StateUnderReview), history[1].ToState)
	assert.NotZero(t, history[0].ID)
	assert.Equal(t, "v0.1", history[0].Payload[entity.PayloadVersion])
	assert.Equal(t, "ready", history[1].Comment)

	require.NoError(t, b.Audit.RecordRejection(ctx, &entity.RejectedAttempt{
		DocumentID:  "d1",
		FromState:   string(workflow.StateDraft),
		TargetState: string(workflow.StateObsolete),
		ActorID:     "eve",
		ErrorCode:   workflow.ErrCodeInvalidTransition,
		Timestamp:   base,
	}))
	rejections, err := b.Audit.Rejections(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, "eve", rejections[0].ActorID)

	history, err = b.Audit.History(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, history, 2, "rejections stay out of the trail")
}

func testDependencies(t *testing.T, b Backend) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		doc, wf := Document(id, "DOC-2025-000"+id, 1, 0, workflow.StateApprovedAndEffective)
		require.NoError(t, b.Documents.Create(ctx, doc, wf))
	}

	require.NoError(t, b.Dependencies.Add(ctx, &entity.Dependency{DocumentID: "b", DependsOnID: "a", CreatedAt: base}))
	require.NoError(t, b.Dependencies.Add(ctx, &entity.Dependency{DocumentID: "c", DependsOnID: "a", CreatedAt: base}))
	err := b.Dependencies.Add(ctx, &entity.Dependency{DocumentID: "c", DependsOnID: "a", CreatedAt: base})
	assert.True(t, errors.Is(err, port.ErrDuplicateDependency), "got %v", err)

	dependents, err := b.Dependencies.DependentsOf(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, dependents)

	deps, err := b.Dependencies.DependenciesOf(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deps)

	require.NoError(t, b.Dependencies.Remove(ctx, "b", "a"))
	err = b.Dependencies.Remove(ctx, "b", "a")
	assert.True(t, errors.Is(err, port.ErrNotFound))

	dependents, err = b.Dependencies.DependentsOf(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, dependents)
}

func testRoles(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.Roles.Grant(ctx, &entity.RoleAssignment{ActorID: "carol", Role: entity.RoleApprover, GrantedAt: base}))
	require.NoError(t, b.Roles.Grant(ctx, &entity.RoleAssignment{ActorID: "carol", Role: entity.RoleReviewer, GrantedAt: base}))
	require.NoError(t, b.Roles.Grant(ctx, &entity.RoleAssignment{ActorID: "carol", Role: entity.RoleApprover, GrantedAt: base}))

	roles, err := b.Roles.RolesOf(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{entity.RoleApprover, entity.RoleReviewer}, roles)

	require.NoError(t, b.Roles.Revoke(ctx, "carol", entity.RoleReviewer))
	roles, err = b.Roles.RolesOf(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{entity.RoleApprover}, roles)

	all, err := b.Roles.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "carol", all[0].ActorID)

	roles, err = b.Roles.RolesOf(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, roles)
}
