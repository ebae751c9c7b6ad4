package models

// Decision is the outcome of evaluating a state-change request locally.
type Decision string

const (
	// DecisionAllowed means the request may be submitted to the authority.
	DecisionAllowed Decision = "ALLOWED"
	// DecisionNeedsReason means a justification must be captured first.
	DecisionNeedsReason Decision = "NEEDS_REASON"
	// DecisionInvalidPrecondition means the current state does not permit the target.
	DecisionInvalidPrecondition Decision = "INVALID_PRECONDITION"
	// DecisionUnauthorized means the principal may not change the task's state.
	DecisionUnauthorized Decision = "UNAUTHORIZED"
)

// TransitionRule describes how one target state is guarded.
type TransitionRule struct {
	Target         State
	RequiresReason bool
	// AllowedFrom is empty when the target has no precondition.
	AllowedFrom []State
}
