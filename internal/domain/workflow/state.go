package workflow

// State represents a document lifecycle state
type State string

const (
	StateDraft                    State = "DRAFT"
	StatePendingReview            State = "PENDING_REVIEW"
	StateUnderReview              State = "UNDER_REVIEW"
	StateReviewed                 State = "REVIEWED"
	StatePendingApproval          State = "PENDING_APPROVAL"
	StateApprovedPendingEffective State = "APPROVED_PENDING_EFFECTIVE"
	StateApprovedAndEffective     State = "APPROVED_AND_EFFECTIVE"
	StateScheduledForObsolescence State = "SCHEDULED_FOR_OBSOLESCENCE"
	StateSuperseded               State = "SUPERSEDED"
	StateObsolete                 State = "OBSOLETE"
	StateTerminated               State = "TERMINATED"
)

// InitialState is the state every new document starts in
const InitialState = StateDraft

var validStates = map[State]bool{
	StateDraft:                    true,
	StatePendingReview:            true,
	StateUnderReview:              true,
	StateReviewed:                 true,
	StatePendingApproval:          true,
	StateApprovedPendingEffective: true,
	StateApprovedAndEffective:     true,
	StateScheduledForObsolescence: true,
	StateSuperseded:               true,
	StateObsolete:                 true,
	StateTerminated:               true,
}

var terminalStates = map[State]bool{
	StateSuperseded: true,
	StateObsolete:   true,
	StateTerminated: true,
}

// effectiveStates hold the authoritative version of a family
var effectiveStates = map[State]bool{
	StateApprovedAndEffective:     true,
	StateScheduledForObsolescence: true,
}

// AllStates lists every state in lifecycle order
func AllStates() []State {
	return []State{
		StateDraft,
		StatePendingReview,
		StateUnderReview,
		StateReviewed,
		StatePendingApproval,
		StateApprovedPendingEffective,
		StateApprovedAndEffective,
		StateScheduledForObsolescence,
		StateSuperseded,
		StateObsolete,
		StateTerminated,
	}
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsEffective returns true if a document in this state is the family's effective version
func (s State) IsEffective() bool {
	return effectiveStates[s]
}

// IsInFlight returns true for non-terminal, non-effective states, i.e. a
// version that is still being authored, reviewed or approved.
func (s State) IsInFlight() bool {
	return s.IsValid() && !s.IsTerminal() && !s.IsEffective()
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// ParseState converts a raw string into a State
func ParseState(value string) (State, error) {
	s := State(value)
	if !s.IsValid() {
		return "", InvalidState(value)
	}
	return s, nil
}
