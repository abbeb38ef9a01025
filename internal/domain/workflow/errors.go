package workflow

import (
	stderrors "errors"
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidTransition      = "WORKFLOW_INVALID_TRANSITION"
	ErrCodeInvalidState           = "WORKFLOW_INVALID_STATE"
	ErrCodeGuardFailed            = "WORKFLOW_GUARD_FAILED"
	ErrCodeAuthorizationDenied    = "WORKFLOW_AUTHORIZATION_DENIED"
	ErrCodeConcurrentModification = "WORKFLOW_CONCURRENT_MODIFICATION"
	ErrCodeNotFound               = "WORKFLOW_NOT_FOUND"
	ErrCodeVersionConflict        = "WORKFLOW_VERSION_CONFLICT"
)

// Guard failure reason codes
const (
	ReasonMissingReviewer         = "missing_reviewer"
	ReasonMissingApprover         = "missing_approver"
	ReasonMissingEffectiveDate    = "missing_effective_date"
	ReasonEffectiveDateNotDue     = "effective_date_not_due"
	ReasonEffectiveDateNotFuture  = "effective_date_not_future"
	ReasonMissingObsoleteDate     = "missing_obsolete_date"
	ReasonObsoleteDateNotFuture   = "obsolete_date_not_future"
	ReasonObsoleteDateNotDue      = "obsolete_date_not_due"
	ReasonHasDependents           = "has_dependents"
	ReasonVersionRace             = "version_race"
	ReasonSourceNotEffective      = "source_not_effective"
	ReasonNewerVersionEffective   = "newer_version_effective"
	ReasonInvalidDependency       = "invalid_dependency"
	ReasonAssignmentLocked        = "assignment_locked"
	ReasonAssigneeLacksRole       = "assignee_lacks_role"
)

const metaReason = "reason"

var (
	ErrInvalidTransition = apperrors.New("invalid state transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrInvalidState = apperrors.New("invalid state", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidState)
	ErrGuardFailed = apperrors.New("guard condition failed", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeGuardFailed)
	ErrAuthorizationDenied = apperrors.New("authorization denied", apperrors.CategoryAuthz).
				WithTextCode(ErrCodeAuthorizationDenied)
	ErrConcurrentModification = apperrors.New("concurrent modification", apperrors.CategoryConflict).
					WithTextCode(ErrCodeConcurrentModification)
	ErrNotFound = apperrors.New("not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
	ErrVersionConflict = apperrors.New("version allocation conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
)

func cloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if message != "" {
		err.Message = message
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// InvalidTransition reports an edge that is not in the transition table
func InvalidTransition(documentID string, from, to State) error {
	return cloneError(ErrInvalidTransition,
		fmt.Sprintf("no transition from %s to %s", from, to), nil,
		map[string]any{"document_id": documentID, "from": string(from), "to": string(to)})
}

// InvalidState reports an unknown state name
func InvalidState(value string) error {
	return cloneError(ErrInvalidState, fmt.Sprintf("invalid state %q", value), nil,
		map[string]any{"state": value})
}

// GuardFailed reports a business-rule violation with its reason code
func GuardFailed(reason string, detail string) error {
	message := "guard failed: " + reason
	if detail != "" {
		message += ": " + detail
	}
	return cloneError(ErrGuardFailed, message, nil, map[string]any{metaReason: reason})
}

// AuthorizationDenied reports an actor that may not perform an action
func AuthorizationDenied(actorID string, action Action, documentID string) error {
	return cloneError(ErrAuthorizationDenied,
		fmt.Sprintf("actor %s may not %s document %s", actorID, action, documentID), nil,
		map[string]any{"actor_id": actorID, "action": string(action), "document_id": documentID})
}

// ConcurrentModification reports a stale version stamp
func ConcurrentModification(documentID string, expected int64) error {
	return cloneError(ErrConcurrentModification,
		fmt.Sprintf("document %s was modified since stamp %d", documentID, expected), nil,
		map[string]any{"document_id": documentID, "expected_stamp": expected})
}

// NotFound reports a missing document or dependency target
func NotFound(kind, id string, source error) error {
	return cloneError(ErrNotFound, fmt.Sprintf("%s %s not found", kind, id), source,
		map[string]any{"kind": kind, "id": id})
}

// VersionConflict reports that a new version could not be allocated
func VersionConflict(number string, source error) error {
	return cloneError(ErrVersionConflict,
		fmt.Sprintf("could not allocate a new version of %s", number), source,
		map[string]any{"number": number})
}

// ErrorCode returns the text code of a workflow error, or "" for other errors
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// GuardReason returns the reason code of a guard failure
func GuardReason(err error) string {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) || ge.TextCode != ErrCodeGuardFailed {
		return ""
	}
	reason, _ := ge.Metadata[metaReason].(string)
	return reason
}

func IsInvalidTransition(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidTransition
}

func IsGuardFailed(err error) bool {
	return ErrorCode(err) == ErrCodeGuardFailed
}

func IsAuthorizationDenied(err error) bool {
	return ErrorCode(err) == ErrCodeAuthorizationDenied
}

func IsConcurrentModification(err error) bool {
	return ErrorCode(err) == ErrCodeConcurrentModification
}

func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}

func IsVersionConflict(err error) bool {
	return ErrorCode(err) == ErrCodeVersionConflict
}
