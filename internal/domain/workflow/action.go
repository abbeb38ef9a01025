package workflow

// Action names the business operation an edge performs. Authorization and
// the audit trail are keyed by action, not by target state.
type Action string

const (
	ActionSubmitForReview      Action = "SUBMIT_FOR_REVIEW"
	ActionStartReview          Action = "START_REVIEW"
	ActionCompleteReview       Action = "COMPLETE_REVIEW"
	ActionRejectReview         Action = "REJECT_REVIEW"
	ActionSubmitForApproval    Action = "SUBMIT_FOR_APPROVAL"
	ActionApprove              Action = "APPROVE"
	ActionRejectApproval       Action = "REJECT_APPROVAL"
	ActionMakeEffective        Action = "MAKE_EFFECTIVE"
	ActionScheduleObsolescence Action = "SCHEDULE_OBSOLESCENCE"
	ActionObsolete             Action = "OBSOLETE"
	ActionTerminate            Action = "TERMINATE"
	ActionSupersede            Action = "SUPERSEDE"
)

var systemActions = map[Action]bool{
	ActionMakeEffective: true,
	ActionObsolete:      true,
	ActionSupersede:     true,
}

// IsSystemOnly reports whether only the reserved system actor may perform the action
func (a Action) IsSystemOnly() bool {
	return systemActions[a]
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}
