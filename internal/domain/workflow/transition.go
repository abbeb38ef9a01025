package workflow

import (
	"context"
	"time"

	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// Transition is the evaluation context handed to guards and effects of one edge
type Transition struct {
	Document *entity.Document
	Workflow *entity.Workflow
	Edge     *Edge
	ActorID  string
	Comment  string

	// Dates supplied with the request, nil when absent
	EffectiveDate *time.Time
	ObsoleteDate  *time.Time

	// Today is the calendar date the transition is evaluated on
	Today time.Time
}

// From returns the document's current state
func (t *Transition) From() State {
	return State(t.Workflow.CurrentState)
}

// ResolvedObsoleteDate prefers the requested date over the stored one
func (t *Transition) ResolvedObsoleteDate() *time.Time {
	if t.ObsoleteDate != nil {
		return t.ObsoleteDate
	}
	return t.Document.ObsoleteDate
}

// Cascade is a state change on another document of the family applied in
// the same atomic unit as the main transition.
type Cascade struct {
	Snapshot *entity.Snapshot
	Action   Action
	Change   entity.StateChange
	Payload  map[string]interface{}
}

// Plan accumulates the writes produced by an edge's effects
type Plan struct {
	Change   entity.StateChange
	Cascades []Cascade
	Payload  map[string]interface{}
}

// NewPlan starts a plan that moves the document to the edge's target
func NewPlan(t *Transition, now time.Time) *Plan {
	return &Plan{
		Change: entity.StateChange{
			ToState:   string(t.Edge.To),
			Assignee:  t.Workflow.CurrentAssignee,
			ChangedAt: now,
		},
		Payload: make(map[string]interface{}),
	}
}

// GuardFunc is a precondition evaluated before a transition is applied.
// A non-nil error blocks the transition.
type GuardFunc func(ctx context.Context, t *Transition) error

// EffectFunc contributes writes to the plan of an allowed transition
type EffectFunc func(ctx context.Context, t *Transition, plan *Plan) error

// SelectorFunc picks one of several candidate edges sharing an action
type SelectorFunc func(t *Transition) bool
