package workflow

import (
	"context"
	"time"

	"github.com/jinkaiteo/edms/internal/domain/entity"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

// Request asks the engine to move one document to a target state
type Request struct {
	DocumentID    string
	ExpectedStamp int64
	Target        domainwf.State
	ActorID       string
	Comment       string
	EffectiveDate *time.Time
	ObsoleteDate  *time.Time

	// AsOf overrides "today" for the system actor so that a sweep evaluates
	// every document against the same date. Ignored for human actors.
	AsOf *time.Time
}

// Result reports the outcome of a successful transition
type Result struct {
	DocumentID   string          `json:"document_id"`
	FromState    domainwf.State  `json:"from_state"`
	State        domainwf.State  `json:"state"`
	Action       domainwf.Action `json:"action"`
	VersionStamp int64           `json:"version_stamp"`
	Superseded   []string        `json:"superseded,omitempty"`
}

// AvailableTransition is an edge an actor may currently request
type AvailableTransition struct {
	Target domainwf.State  `json:"target"`
	Action domainwf.Action `json:"action"`
}

// WorkflowEngine is the single entry point for lifecycle changes
type WorkflowEngine interface {
	// RequestTransition validates, authorizes, guards and applies a transition atomically
	RequestTransition(ctx context.Context, req Request) (*Result, error)

	// AvailableTransitions lists the edges actorID is authorized to request on a document.
	// Guards are not evaluated.
	AvailableTransitions(ctx context.Context, documentID, actorID string) ([]AvailableTransition, error)
}

// Authorizer answers whether an actor may perform an action on a document
type Authorizer interface {
	Can(ctx context.Context, actorID string, action domainwf.Action, doc *entity.Document) bool
}

// ConflictChecker supplies the cross-document guards and queries used by the table
type ConflictChecker interface {
	GuardDependents(ctx context.Context, t *domainwf.Transition) error
	GuardVersionRace(ctx context.Context, t *domainwf.Transition) error
	EffectiveSiblings(ctx context.Context, doc *entity.Document) ([]*entity.Snapshot, error)
}
