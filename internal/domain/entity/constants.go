package entity

// SystemActorID is the reserved identity used by the scheduler
const SystemActorID = "system"

// Role constants for RoleAssignment
const (
	RoleAuthor   = "author"
	RoleReviewer = "reviewer"
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

// DateLayout is the persisted and displayed calendar date format
const DateLayout = "2006-01-02"

// DocumentNumberPrefix starts every document family number
const DocumentNumberPrefix = "DOC"

// Payload keys written into TransitionRecord.Payload
const (
	PayloadEffectiveDate = "effective_date"
	PayloadObsoleteDate  = "obsolete_date"
	PayloadApprovalDate  = "approval_date"
	PayloadSupersededBy  = "superseded_by"
	PayloadSuperseded    = "superseded"
	PayloadAsOf          = "as_of"
	PayloadVersion       = "version"
)

// IsValidRole reports whether role is one of the known global roles
func IsValidRole(role string) bool {
	switch role {
	case RoleAuthor, RoleReviewer, RoleApprover, RoleAdmin:
		return true
	default:
		return false
	}
}
