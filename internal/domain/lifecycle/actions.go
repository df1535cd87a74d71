package lifecycle

import (
	"sort"

	"invoice-engine/internal/domain/invoice"
)

// Action is an external workflow trigger name.
type Action string

const (
	ActionSubmitForReview  Action = "submit_for_review"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionStartWork        Action = "start_work"
	ActionSendToPmo        Action = "send_to_pmo"
	ActionComplete         Action = "complete"
	ActionReturnToProgress Action = "return_to_progress"
	ActionCancel           Action = "cancel"
	ActionHold             Action = "hold"
	// ActionResume has no fixed target: it returns to the status held before OnHold.
	ActionResume Action = "resume"
)

var actionTargets = map[Action]invoice.Status{
	ActionSubmitForReview:  invoice.StatusUnderReview,
	ActionApprove:          invoice.StatusApproved,
	ActionReject:           invoice.StatusRejected,
	ActionStartWork:        invoice.StatusInProgress,
	ActionSendToPmo:        invoice.StatusPmoReview,
	ActionComplete:         invoice.StatusCompleted,
	ActionReturnToProgress: invoice.StatusInProgress,
	ActionCancel:           invoice.StatusCancelled,
	ActionHold:             invoice.StatusOnHold,
}

// ActionTarget returns the fixed target of a. ok is false for unknown actions
// and for ActionResume, which needs the audit trail to resolve.
func ActionTarget(a Action) (invoice.Status, bool) {
	s, ok := actionTargets[a]
	return s, ok
}

// KnownAction reports whether a is a defined action.
func KnownAction(a Action) bool {
	if a == ActionResume {
		return true
	}
	_, ok := actionTargets[a]
	return ok
}

// Actions lists every defined action, sorted.
func Actions() []Action {
	out := make([]Action, 0, len(actionTargets)+1)
	for a := range actionTargets {
		out = append(out, a)
	}
	out = append(out, ActionResume)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
