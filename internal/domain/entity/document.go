package entity

import (
	"fmt"
	"time"
)

// Document represents one version of a controlled document
type Document struct {
	ID            string     `json:"id"`
	Number        string     `json:"number"`
	Title         string     `json:"title"`
	MajorVersion  int        `json:"major_version"`
	MinorVersion  int        `json:"minor_version"`
	Status        string     `json:"status"`
	AuthorID      string     `json:"author_id"`
	ReviewerID    string     `json:"reviewer_id,omitempty"`
	ApproverID    string     `json:"approver_id,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	ObsoleteDate  *time.Time `json:"obsolete_date,omitempty"`
	ApprovalDate  *time.Time `json:"approval_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Version returns the display form of the version pair, e.g. "v1.0"
func (d *Document) Version() string {
	return fmt.Sprintf("v%d.%d", d.MajorVersion, d.MinorVersion)
}

// Label returns the family number with its version, e.g. "DOC-2025-0001 v1.0"
func (d *Document) Label() string {
	return d.Number + " " + d.Version()
}

// NewerThan reports whether d carries a higher version pair than other
func (d *Document) NewerThan(other *Document) bool {
	if d.MajorVersion != other.MajorVersion {
		return d.MajorVersion > other.MajorVersion
	}
	return d.MinorVersion > other.MinorVersion
}

// Workflow holds the lifecycle state of exactly one document
type Workflow struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	CurrentState    string    `json:"current_state"`
	VersionStamp    int64     `json:"version_stamp"`
	CurrentAssignee string    `json:"current_assignee,omitempty"`
	StateEnteredAt  time.Time `json:"state_entered_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot pairs a document with its workflow as read in one query
type Snapshot struct {
	Document *Document
	Workflow *Workflow
}

// Dependency is a directed edge: DocumentID depends on DependsOnID
type Dependency struct {
	DocumentID  string    `json:"document_id"`
	DependsOnID string    `json:"depends_on_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// StateChange describes the write applied by a successful transition.
// Nil date pointers leave the stored value untouched.
type StateChange struct {
	ToState       string
	Assignee      string
	EffectiveDate *time.Time
	ObsoleteDate  *time.Time
	ApprovalDate  *time.Time
	ChangedAt     time.Time
}

// DateOf truncates t to its calendar date at UTC midnight
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to the calendar date of t
func DatePtr(t time.Time) *time.Time {
	d := DateOf(t)
	return &d
}

// ParseDate parses a YYYY-MM-DD calendar date
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}
