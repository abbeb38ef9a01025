package port

import (
	"context"
	"errors"
	"time"

	"github.com/jinkaiteo/edms/internal/domain/entity"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateVersion is returned when (number, major, minor) is already taken
	ErrDuplicateVersion = errors.New("document version already exists")

	// ErrDuplicateDependency is returned when the dependency edge already exists
	ErrDuplicateDependency = errors.New("dependency already exists")
)

// DocumentStore persists documents together with their workflow
type DocumentStore interface {
	// Create inserts a document and its workflow. Returns ErrDuplicateVersion
	// when the family already holds the same version pair.
	Create(ctx context.Context, doc *entity.Document, wf *entity.Workflow) error

	// Load returns the document and workflow, or ErrNotFound
	Load(ctx context.Context, id string) (*entity.Document, *entity.Workflow, error)

	// CompareAndSwap applies change only when the stored stamp equals
	// expectedStamp and increments the stamp. Returns false on a stale stamp.
	CompareAndSwap(ctx context.Context, id string, expectedStamp int64, change entity.StateChange) (bool, error)

	// UpdateAssignments sets reviewer and approver under the same stamp check
	UpdateAssignments(ctx context.Context, id string, expectedStamp int64, reviewerID, approverID string, now time.Time) (bool, error)

	// ListFamily returns every version sharing a document number
	ListFamily(ctx context.Context, number string) ([]*entity.Snapshot, error)

	// ListDue returns documents in state whose governing date is on or before asOf.
	// The governing date is effective_date for APPROVED_PENDING_EFFECTIVE and
	// obsolete_date for SCHEDULED_FOR_OBSOLESCENCE.
	ListDue(ctx context.Context, state string, asOf time.Time) ([]*entity.Snapshot, error)

	// ListEnteredBefore returns documents in state that entered it before cutoff
	ListEnteredBefore(ctx context.Context, state string, cutoff time.Time) ([]*entity.Snapshot, error)

	// MaxFamilySequence returns the highest family sequence allocated for a year, 0 when none
	MaxFamilySequence(ctx context.Context, year int) (int, error)
}

// AuditRecorder is the append-only sink for transition records
type AuditRecorder interface {
	Record(ctx context.Context, record *entity.TransitionRecord) error
}

// AuditReader reads the transition trail of a document
type AuditReader interface {
	History(ctx context.Context, documentID string) ([]*entity.TransitionRecord, error)
}

// RejectionRecorder stores refused transition attempts outside the audit trail
type RejectionRecorder interface {
	RecordRejection(ctx context.Context, attempt *entity.RejectedAttempt) error
}

// AuditRepository combines the audit ports backed by one store
type AuditRepository interface {
	AuditRecorder
	AuditReader
	RejectionRecorder
	Rejections(ctx context.Context, documentID string) ([]*entity.RejectedAttempt, error)
}

// DependencyLookup answers which documents depend on a given document
type DependencyLookup interface {
	DependentsOf(ctx context.Context, documentID string) ([]string, error)
}

// DependencyRepository manages dependency edges
type DependencyRepository interface {
	DependencyLookup
	Add(ctx context.Context, dep *entity.Dependency) error
	Remove(ctx context.Context, documentID, dependsOnID string) error
	DependenciesOf(ctx context.Context, documentID string) ([]string, error)
}

// RoleDirectory resolves the global roles of an actor
type RoleDirectory interface {
	RolesOf(ctx context.Context, actorID string) ([]string, error)
}

// RoleRepository manages role assignments
type RoleRepository interface {
	RoleDirectory
	Grant(ctx context.Context, assignment *entity.RoleAssignment) error
	Revoke(ctx context.Context, actorID, role string) error
	List(ctx context.Context) ([]*entity.RoleAssignment, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
