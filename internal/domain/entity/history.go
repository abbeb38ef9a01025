package entity

import "time"

// TransitionRecord is one immutable entry of a document's audit trail
type TransitionRecord struct {
	ID         int64                  `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	DocumentID string                 `json:"document_id"`
	FromState  string                 `json:"from_state"`
	ToState    string                 `json:"to_state"`
	Action     string                 `json:"action"`
	ActorID    string                 `json:"actor_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Comment    string                 `json:"comment,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// RejectedAttempt records a transition request the engine refused.
// Stored apart from the audit trail and only when the policy asks for it.
type RejectedAttempt struct {
	ID          int64     `json:"id"`
	DocumentID  string    `json:"document_id"`
	FromState   string    `json:"from_state"`
	TargetState string    `json:"target_state"`
	ActorID     string    `json:"actor_id"`
	ErrorCode   string    `json:"error_code"`
	Reason      string    `json:"reason,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RoleAssignment grants a global role to an actor
type RoleAssignment struct {
	ActorID   string    `json:"actor_id"`
	Role      string    `json:"role"`
	GrantedAt time.Time `json:"granted_at"`
}
