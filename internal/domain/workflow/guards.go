package workflow

import (
	"context"
	"time"

	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// RequireReviewer fails when no reviewer is assigned to the document
func RequireReviewer(_ context.Context, t *Transition) error {
	if t.Document.ReviewerID == "" {
		return GuardFailed(ReasonMissingReviewer, "")
	}
	return nil
}

// RequireApprover fails when no approver is assigned to the document
func RequireApprover(_ context.Context, t *Transition) error {
	if t.Document.ApproverID == "" {
		return GuardFailed(ReasonMissingApprover, "")
	}
	return nil
}

// RequireEffectiveDate fails unless the request carries an effective date.
// Approval always names its date; a planned date stored on the draft is not enough.
func RequireEffectiveDate(_ context.Context, t *Transition) error {
	if t.EffectiveDate == nil {
		return GuardFailed(ReasonMissingEffectiveDate, "")
	}
	return nil
}

// ApprovedEffectiveDateDue fails unless the requested effective date is on or before today
func ApprovedEffectiveDateDue(_ context.Context, t *Transition) error {
	return effectiveDue(t.EffectiveDate, t.Today)
}

// EffectiveDateDue fails unless the stored effective date is on or before today
func EffectiveDateDue(_ context.Context, t *Transition) error {
	return effectiveDue(t.Document.EffectiveDate, t.Today)
}

func effectiveDue(d *time.Time, today time.Time) error {
	if d == nil {
		return GuardFailed(ReasonMissingEffectiveDate, "")
	}
	if entity.DateOf(*d).After(today) {
		return GuardFailed(ReasonEffectiveDateNotDue, d.Format(entity.DateLayout))
	}
	return nil
}

// EffectiveDateFuture fails unless the requested effective date is after today
func EffectiveDateFuture(_ context.Context, t *Transition) error {
	d := t.EffectiveDate
	if d == nil {
		return GuardFailed(ReasonMissingEffectiveDate, "")
	}
	if !entity.DateOf(*d).After(t.Today) {
		return GuardFailed(ReasonEffectiveDateNotFuture, d.Format(entity.DateLayout))
	}
	return nil
}

// RequireFutureObsoleteDate fails unless an obsolete date after today is supplied
func RequireFutureObsoleteDate(_ context.Context, t *Transition) error {
	d := t.ResolvedObsoleteDate()
	if d == nil {
		return GuardFailed(ReasonMissingObsoleteDate, "")
	}
	if !entity.DateOf(*d).After(t.Today) {
		return GuardFailed(ReasonObsoleteDateNotFuture, d.Format(entity.DateLayout))
	}
	return nil
}

// ObsoleteDateDue fails unless the stored obsolete date is on or before today
func ObsoleteDateDue(_ context.Context, t *Transition) error {
	d := t.Document.ObsoleteDate
	if d == nil {
		return GuardFailed(ReasonMissingObsoleteDate, "")
	}
	if entity.DateOf(*d).After(t.Today) {
		return GuardFailed(ReasonObsoleteDateNotDue, d.Format(entity.DateLayout))
	}
	return nil
}

// EffectiveNow selects the immediate-effect approval edge
func EffectiveNow(t *Transition) bool {
	d := t.EffectiveDate
	return d != nil && !entity.DateOf(*d).After(t.Today)
}

// EffectiveLater selects the deferred approval edge
func EffectiveLater(t *Transition) bool {
	d := t.EffectiveDate
	return d != nil && entity.DateOf(*d).After(t.Today)
}

// AssignReviewer hands the document to its reviewer
func AssignReviewer(_ context.Context, t *Transition, plan *Plan) error {
	plan.Change.Assignee = t.Document.ReviewerID
	return nil
}

// AssignApprover hands the document to its approver
func AssignApprover(_ context.Context, t *Transition, plan *Plan) error {
	plan.Change.Assignee = t.Document.ApproverID
	return nil
}

// AssignAuthor hands the document back to its author
func AssignAuthor(_ context.Context, t *Transition, plan *Plan) error {
	plan.Change.Assignee = t.Document.AuthorID
	return nil
}

// ClearAssignee leaves nobody holding the document
func ClearAssignee(_ context.Context, _ *Transition, plan *Plan) error {
	plan.Change.Assignee = ""
	return nil
}

// RecordApproval stamps the approval date and persists the effective date
func RecordApproval(_ context.Context, t *Transition, plan *Plan) error {
	approved := t.Today
	plan.Change.ApprovalDate = &approved
	plan.Payload[entity.PayloadApprovalDate] = approved.Format(entity.DateLayout)
	if d := t.EffectiveDate; d != nil {
		plan.Change.EffectiveDate = entity.DatePtr(*d)
		plan.Payload[entity.PayloadEffectiveDate] = d.Format(entity.DateLayout)
	}
	return nil
}

// RecordObsoleteDate persists the requested obsolete date
func RecordObsoleteDate(_ context.Context, t *Transition, plan *Plan) error {
	if d := t.ResolvedObsoleteDate(); d != nil {
		plan.Change.ObsoleteDate = entity.DatePtr(*d)
		plan.Payload[entity.PayloadObsoleteDate] = d.Format(entity.DateLayout)
	}
	return nil
}

// RecordAsOf notes the sweep date a system transition was evaluated for
func RecordAsOf(_ context.Context, t *Transition, plan *Plan) error {
	plan.Payload[entity.PayloadAsOf] = t.Today.Format(entity.DateLayout)
	return nil
}

// Today returns the calendar date of now
func Today(now time.Time) time.Time {
	return entity.DateOf(now)
}
