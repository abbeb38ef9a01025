package event

// Type identifies the type of domain event
type Type string

const (
	TypeDocumentCreated      Type = "document.created"
	TypeDocumentTransitioned Type = "document.transitioned"
	TypeDocumentSuperseded   Type = "document.superseded"
	TypeReviewOverdue        Type = "document.review_overdue"
	TypeSweepCompleted       Type = "scheduler.sweep_completed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentCreated,
		TypeDocumentTransitioned,
		TypeDocumentSuperseded,
		TypeReviewOverdue,
		TypeSweepCompleted:
		return true
	default:
		return false
	}
}
