package workflow

import (
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

// BuildDocumentTable compiles the document lifecycle transition table
func BuildDocumentTable(conflicts ConflictChecker) domainwf.Table {
	builder := domainwf.NewBuilder()
	supersede := SupersedeEffectiveSiblings(conflicts)

	builder.Configure(domainwf.StateDraft).
		Permit(domainwf.ActionSubmitForReview, domainwf.StatePendingReview,
			domainwf.WithGuards(domainwf.RequireReviewer),
			domainwf.WithEffects(domainwf.AssignReviewer)).
		Permit(domainwf.ActionTerminate, domainwf.StateTerminated,
			domainwf.WithEffects(domainwf.ClearAssignee))

	builder.Configure(domainwf.StatePendingReview).
		Permit(domainwf.ActionStartReview, domainwf.StateUnderReview).
		Permit(domainwf.ActionTerminate, domainwf.StateTerminated,
			domainwf.WithEffects(domainwf.ClearAssignee))

	builder.Configure(domainwf.StateUnderReview).
		Permit(domainwf.ActionCompleteReview, domainwf.StateReviewed,
			domainwf.WithEffects(domainwf.AssignAuthor)).
		Permit(domainwf.ActionRejectReview, domainwf.StateDraft,
			domainwf.WithEffects(domainwf.AssignAuthor)).
		Permit(domainwf.ActionTerminate, domainwf.StateTerminated,
			domainwf.WithEffects(domainwf.ClearAssignee))

	builder.Configure(domainwf.StateReviewed).
		Permit(domainwf.ActionSubmitForApproval, domainwf.StatePendingApproval,
			domainwf.WithGuards(domainwf.RequireApprover),
			domainwf.WithEffects(domainwf.AssignApprover)).
		Permit(domainwf.ActionTerminate, domainwf.StateTerminated,
			domainwf.WithEffects(domainwf.ClearAssignee))

	// Both approval edges share one action; the effective date selects the target.
	builder.Configure(domainwf.StatePendingApproval).
		Permit(domainwf.ActionApprove, domainwf.StateApprovedAndEffective,
			domainwf.WithSelector(domainwf.EffectiveNow),
			domainwf.WithGuards(domainwf.RequireEffectiveDate, domainwf.ApprovedEffectiveDateDue),
			domainwf.WithEffects(domainwf.RecordApproval, supersede, domainwf.ClearAssignee)).
		Permit(domainwf.ActionApprove, domainwf.StateApprovedPendingEffective,
			domainwf.WithSelector(domainwf.EffectiveLater),
			domainwf.WithGuards(domainwf.RequireEffectiveDate, domainwf.EffectiveDateFuture),
			domainwf.WithEffects(domainwf.RecordApproval, domainwf.ClearAssignee)).
		Permit(domainwf.ActionRejectApproval, domainwf.StateDraft,
			domainwf.WithEffects(domainwf.AssignAuthor)).
		Permit(domainwf.ActionTerminate, domainwf.StateTerminated,
			domainwf.WithEffects(domainwf.ClearAssignee))

	builder.Configure(domainwf.StateApprovedPendingEffective).
		Permit(domainwf.ActionMakeEffective, domainwf.StateApprovedAndEffective,
			domainwf.WithGuards(domainwf.EffectiveDateDue),
			domainwf.WithEffects(domainwf.RecordAsOf, supersede)).
		Permit(domainwf.ActionTerminate, domainwf.StateTerminated,
			domainwf.WithEffects(domainwf.ClearAssignee))

	builder.Configure(domainwf.StateApprovedAndEffective).
		Permit(domainwf.ActionScheduleObsolescence, domainwf.StateScheduledForObsolescence,
			domainwf.WithGuards(domainwf.RequireFutureObsoleteDate, conflicts.GuardDependents, conflicts.GuardVersionRace),
			domainwf.WithEffects(domainwf.RecordObsoleteDate))

	builder.Configure(domainwf.StateScheduledForObsolescence).
		Permit(domainwf.ActionObsolete, domainwf.StateObsolete,
			domainwf.WithGuards(domainwf.ObsoleteDateDue),
			domainwf.WithEffects(domainwf.RecordAsOf))

	// SUPERSEDED, OBSOLETE and TERMINATED are terminal states - no outgoing transitions

	return builder.Build()
}
