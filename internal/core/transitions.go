package core

import (
	"fmt"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// transitionRules is the full rule set. Targets absent from the map have no
// precondition and need no reason.
var transitionRules = map[models.State]models.TransitionRule{
	models.StateBlocked: {
		Target:         models.StateBlocked,
		RequiresReason: true,
		AllowedFrom:    []models.State{models.StateInAnalysis, models.StateInDevelopment},
	},
	models.StateCancelled: {
		Target:         models.StateCancelled,
		RequiresReason: true,
	},
}

// RuleFor returns the rule guarding target.
func RuleFor(target models.State) models.TransitionRule {
	if rule, ok := transitionRules[target]; ok {
		return rule
	}
	return models.TransitionRule{Target: target}
}

// RequiresReason reports whether entering target needs a justification.
func RequiresReason(target models.State) bool {
	return RuleFor(target).RequiresReason
}

// PreconditionHolds reports whether target may be entered from current.
func PreconditionHolds(current, target models.State) bool {
	rule := RuleFor(target)
	if len(rule.AllowedFrom) == 0 {
		return true
	}
	for _, s := range rule.AllowedFrom {
		if s == current {
			return true
		}
	}
	return false
}

// EvaluateTransition decides a state-change request without any I/O.
// Checks run in a fixed order: authorization, precondition, reason.
func EvaluateTransition(caps models.CapabilitySet, current, target models.State, reasonSupplied bool) models.Decision {
	if !caps.CanChangeState {
		return models.DecisionUnauthorized
	}
	if !PreconditionHolds(current, target) {
		return models.DecisionInvalidPrecondition
	}
	if RequiresReason(target) && !reasonSupplied {
		return models.DecisionNeedsReason
	}
	return models.DecisionAllowed
}

// validateTarget rejects states outside the fixed set before evaluation.
func validateTarget(target models.State) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, target)
	}
	return nil
}

// decisionError maps a blocking decision to its error kind. Allowed and
// NeedsReason are not errors.
func decisionError(d models.Decision) error {
	switch d {
	case models.DecisionUnauthorized:
		return ErrUnauthorized
	case models.DecisionInvalidPrecondition:
		return ErrInvalidPrecondition
	default:
		return nil
	}
}
