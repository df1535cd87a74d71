// Package lifecycle holds the static invoice state machine: which status may
// follow which, which edges only automation may take, and which workflow
// action maps to which target.
package lifecycle

import (
	"invoice-engine/internal/domain/invoice"
)

type edge struct{ from, to invoice.Status }

// adjacency is the complete transition table. A status missing from the map
// (or mapped to nothing) is terminal.
var adjacency = map[invoice.Status][]invoice.Status{
	invoice.StatusSubmitted: {
		invoice.StatusUnderReview, invoice.StatusRejected, invoice.StatusCancelled, invoice.StatusOnHold,
	},
	invoice.StatusUnderReview: {
		invoice.StatusApproved, invoice.StatusRejected, invoice.StatusCancelled, invoice.StatusOnHold,
	},
	invoice.StatusApproved: {
		invoice.StatusInProgress, invoice.StatusCancelled, invoice.StatusOnHold,
	},
	invoice.StatusInProgress: {
		invoice.StatusPmoReview, invoice.StatusCancelled, invoice.StatusOnHold,
	},
	invoice.StatusPmoReview: {
		invoice.StatusCompleted, invoice.StatusInProgress, invoice.StatusRejected, invoice.StatusOnHold,
	},
	invoice.StatusOnHold: {
		invoice.StatusSubmitted, invoice.StatusUnderReview, invoice.StatusApproved,
		invoice.StatusInProgress, invoice.StatusPmoReview, invoice.StatusCancelled,
	},
	invoice.StatusCompleted: nil,
	invoice.StatusRejected:  nil,
	invoice.StatusCancelled: nil,
}

// automatedOnly edges are legal but cannot be requested by a user directly.
var automatedOnly = map[edge]struct{}{
	{invoice.StatusPmoReview, invoice.StatusCompleted}: {},
}

// InitialStatus is the only status an invoice can be created in.
const InitialStatus = invoice.StatusSubmitted

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s invoice.Status) bool { return len(adjacency[s]) == 0 }

// GetValidTransitions returns the legal targets from current, in table order.
// The returned slice is a copy.
func GetValidTransitions(current invoice.Status) []invoice.Status {
	next := adjacency[current]
	out := make([]invoice.Status, len(next))
	copy(out, next)
	return out
}

// IsValidTransition reports whether to is in the table for from.
func IsValidTransition(from, to invoice.Status) bool {
	for _, s := range adjacency[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsAutomatedOnly reports whether from->to may only be taken by an automated trigger.
func IsAutomatedOnly(from, to invoice.Status) bool {
	_, ok := automatedOnly[edge{from, to}]
	return ok
}

// CanChangeStatusManually: legal and not reserved for automation.
func CanChangeStatusManually(current, requested invoice.Status) bool {
	return IsValidTransition(current, requested) && !IsAutomatedOnly(current, requested)
}

// GetManualTransitions is GetValidTransitions minus the automation-only edges.
func GetManualTransitions(current invoice.Status) []invoice.Status {
	out := make([]invoice.Status, 0, len(adjacency[current]))
	for _, s := range adjacency[current] {
		if !IsAutomatedOnly(current, s) {
			out = append(out, s)
		}
	}
	return out
}

// Check validates a requested transition and returns a descriptive
// *invoice.InvalidTransitionError when it is refused.
func Check(current, requested invoice.Status, automated bool) error {
	switch {
	case !requested.Valid():
		return &invoice.InvalidTransitionError{
			From: current, Attempted: requested, Legal: legalFor(current, automated),
			Reason: "requested status is not defined",
		}
	case current == requested:
		return &invoice.InvalidTransitionError{
			From: current, Attempted: requested, Legal: legalFor(current, automated),
			Reason: "invoice is already in that status",
		}
	case IsTerminal(current):
		return &invoice.InvalidTransitionError{
			From: current, Attempted: requested, Legal: nil,
			Reason: current.String() + " is a terminal status",
		}
	case !IsValidTransition(current, requested):
		return &invoice.InvalidTransitionError{
			From: current, Attempted: requested, Legal: legalFor(current, automated),
			Reason: "transition is not allowed",
		}
	case !automated && IsAutomatedOnly(current, requested):
		return &invoice.InvalidTransitionError{
			From: current, Attempted: requested, Legal: legalFor(current, automated),
			Reason: "transition is reserved for automated workflow actions",
		}
	}
	return nil
}

func legalFor(current invoice.Status, automated bool) []invoice.Status {
	if automated {
		return GetValidTransitions(current)
	}
	return GetManualTransitions(current)
}
