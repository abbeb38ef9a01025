package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

type stubRoles struct {
	roles map[string][]string
	err   error
}

func (s *stubRoles) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.roles[actorID], nil
}

func newGate() *Gate {
	return NewGate(&stubRoles{roles: map[string][]string{
		"alice": {entity.RoleAuthor},
		"rita":  {entity.RoleReviewer},
		"carol": {entity.RoleApprover},
		"adam":  {entity.RoleAdmin},
		"paul":  {entity.RoleApprover},
		"ron":   {entity.RoleReviewer},
	}}, zap.NewNop())
}

func testDoc() *entity.Document {
	return &entity.Document{
		ID:         "doc-1",
		AuthorID:   "alice",
		ReviewerID: "rita",
		ApproverID: "carol",
	}
}

func TestGate_Can(t *testing.T) {
	g := newGate()
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  string
		action workflow.Action
		want   bool
	}{
		{"author submits", "alice", workflow.ActionSubmitForReview, true},
		{"other author cannot submit", "bob", workflow.ActionSubmitForReview, false},
		{"reviewer cannot submit", "rita", workflow.ActionSubmitForReview, false},
		{"admin submits", "adam", workflow.ActionSubmitForReview, true},
		{"assigned reviewer starts", "rita", workflow.ActionStartReview, true},
		{"unassigned reviewer denied", "ron", workflow.ActionStartReview, false},
		{"assigned reviewer rejects", "rita", workflow.ActionRejectReview, true},
		{"author cannot review", "alice", workflow.ActionCompleteReview, false},
		{"assigned approver approves", "carol", workflow.ActionApprove, true},
		{"unassigned approver cannot approve", "paul", workflow.ActionApprove, false},
		{"any approver schedules obsolescence", "paul", workflow.ActionScheduleObsolescence, true},
		{"author cannot schedule obsolescence", "alice", workflow.ActionScheduleObsolescence, false},
		{"author terminates", "alice", workflow.ActionTerminate, true},
		{"admin terminates", "adam", workflow.ActionTerminate, true},
		{"reviewer cannot terminate", "rita", workflow.ActionTerminate, false},
		{"system makes effective", entity.SystemActorID, workflow.ActionMakeEffective, true},
		{"system obsoletes", entity.SystemActorID, workflow.ActionObsolete, true},
		{"admin cannot make effective", "adam", workflow.ActionMakeEffective, false},
		{"approver cannot obsolete", "carol", workflow.ActionObsolete, false},
		{"system cannot approve", entity.SystemActorID, workflow.ActionApprove, false},
		{"empty actor", "", workflow.ActionSubmitForReview, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Can(ctx, tt.actor, tt.action, testDoc()))
		})
	}
}

func TestGate_AssignmentOverridesGlobalRole(t *testing.T) {
	g := newGate()
	doc := testDoc()
	// bob holds no global role at all
	doc.ReviewerID = "bob"

	assert.True(t, g.Can(context.Background(), "bob", workflow.ActionCompleteReview, doc))
	assert.False(t, g.Can(context.Background(), "rita", workflow.ActionCompleteReview, doc))
}

func TestGate_RoleLookupFailureDenies(t *testing.T) {
	g := NewGate(&stubRoles{err: errors.New("directory down")}, nil)
	doc := testDoc()

	assert.False(t, g.Can(context.Background(), "paul", workflow.ActionScheduleObsolescence, doc))
	// Document relations do not need the directory
	assert.True(t, g.Can(context.Background(), "alice", workflow.ActionSubmitForReview, doc))
	assert.False(t, g.CanBeAssigned(context.Background(), "rita", entity.RoleReviewer))
}

func TestGate_CanBeAssigned(t *testing.T) {
	g := newGate()
	ctx := context.Background()

	assert.True(t, g.CanBeAssigned(ctx, "rita", entity.RoleReviewer))
	assert.True(t, g.CanBeAssigned(ctx, "adam", entity.RoleApprover))
	assert.False(t, g.CanBeAssigned(ctx, "alice", entity.RoleReviewer))
	assert.False(t, g.CanBeAssigned(ctx, "nobody", entity.RoleApprover))
	assert.False(t, g.CanBeAssigned(ctx, entity.SystemActorID, entity.RoleApprover))
}

func TestCapabilities_AdminIsSuperset(t *testing.T) {
	admin := Capabilities(entity.RoleAdmin)
	for _, role := range []string{entity.RoleAuthor, entity.RoleReviewer, entity.RoleApprover} {
		for action := range Capabilities(role) {
			assert.True(t, admin[action], "%s missing %s", entity.RoleAdmin, action)
		}
	}
	assert.False(t, admin[workflow.ActionMakeEffective])
}
