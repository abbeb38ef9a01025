package authz

import (
	"context"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// scope is the document relation a non-admin actor needs on top of the capability
type scope int

const (
	scopeNone scope = iota
	scopeAuthor
	scopeReviewer
	scopeApprover
)

var actionScopes = map[workflow.Action]scope{
	workflow.ActionSubmitForReview:      scopeAuthor,
	workflow.ActionSubmitForApproval:    scopeAuthor,
	workflow.ActionTerminate:            scopeAuthor,
	workflow.ActionStartReview:          scopeReviewer,
	workflow.ActionCompleteReview:       scopeReviewer,
	workflow.ActionRejectReview:         scopeReviewer,
	workflow.ActionApprove:              scopeApprover,
	workflow.ActionRejectApproval:       scopeApprover,
	workflow.ActionScheduleObsolescence: scopeNone,
}

var roleCapabilities = map[string][]workflow.Action{
	entity.RoleAuthor: {
		workflow.ActionSubmitForReview,
		workflow.ActionSubmitForApproval,
		workflow.ActionTerminate,
	},
	entity.RoleReviewer: {
		workflow.ActionStartReview,
		workflow.ActionCompleteReview,
		workflow.ActionRejectReview,
	},
	entity.RoleApprover: {
		workflow.ActionApprove,
		workflow.ActionRejectApproval,
		workflow.ActionScheduleObsolescence,
	},
}

// Capabilities returns the actions a global role grants. Admin holds every
// human action.
func Capabilities(role string) map[workflow.Action]bool {
	caps := make(map[workflow.Action]bool)
	if role == entity.RoleAdmin {
		for action := range actionScopes {
			caps[action] = true
		}
		return caps
	}
	for _, action := range roleCapabilities[role] {
		caps[action] = true
	}
	return caps
}

// Gate answers whether an actor may perform an action on a document. It
// reads role assignments and the document's assignment metadata only.
type Gate struct {
	roles  port.RoleDirectory
	logger *zap.Logger
}

// NewGate creates an authorization gate
func NewGate(roles port.RoleDirectory, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{roles: roles, logger: logger}
}

// Can reports whether actorID may perform action on doc
func (g *Gate) Can(ctx context.Context, actorID string, action workflow.Action, doc *entity.Document) bool {
	if actorID == "" || doc == nil {
		return false
	}
	if action.IsSystemOnly() {
		return actorID == entity.SystemActorID
	}
	if actorID == entity.SystemActorID {
		return false
	}

	// Document-scoped relations grant the matching role's capabilities
	// regardless of global role.
	for _, role := range relations(actorID, doc) {
		if Capabilities(role)[action] {
			return true
		}
	}

	roles, err := g.roles.RolesOf(ctx, actorID)
	if err != nil {
		g.logger.Warn("Role lookup failed, denying",
			zap.String("actor_id", actorID),
			zap.String("action", action.String()),
			zap.Error(err))
		return false
	}
	for _, role := range roles {
		if !Capabilities(role)[action] {
			continue
		}
		if role == entity.RoleAdmin || actionScopes[action] == scopeNone {
			return true
		}
	}
	return false
}

// CanBeAssigned reports whether actorID may be assigned to a document in role
func (g *Gate) CanBeAssigned(ctx context.Context, actorID, role string) bool {
	if actorID == "" || actorID == entity.SystemActorID {
		return false
	}
	roles, err := g.roles.RolesOf(ctx, actorID)
	if err != nil {
		g.logger.Warn("Role lookup failed, denying assignment",
			zap.String("actor_id", actorID),
			zap.String("role", role),
			zap.Error(err))
		return false
	}
	for _, r := range roles {
		if r == role || r == entity.RoleAdmin {
			return true
		}
	}
	return false
}

func relations(actorID string, doc *entity.Document) []string {
	var out []string
	if doc.AuthorID == actorID {
		out = append(out, entity.RoleAuthor)
	}
	if doc.ReviewerID == actorID {
		out = append(out, entity.RoleReviewer)
	}
	if doc.ApproverID == actorID {
		out = append(out, entity.RoleApprover)
	}
	return out
}
