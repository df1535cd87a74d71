package invoice

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("invoice not found")
	ErrConcurrencyConflict    = errors.New("invoice was modified concurrently, refetch and retry")
	ErrDuplicateInvoiceNumber = errors.New("invoice number already exists")
	ErrUnknownAction          = errors.New("unknown workflow action")
	ErrInvalidStatus          = errors.New("invalid status value")
)

// FieldViolation is one failed rule on one field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found, never just the first.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of the offending fields in report order.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Field)
	}
	return out
}

// InvalidTransitionError explains a rejected status change together with the
// statuses that would have been accepted.
type InvalidTransitionError struct {
	From      Status
	Attempted Status
	Legal     []Status
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	legal := make([]string, 0, len(e.Legal))
	for _, s := range e.Legal {
		legal = append(legal, s.String())
	}
	return fmt.Sprintf("cannot change status from %s to %s: %s (allowed: [%s])",
		e.From, e.Attempted, e.Reason, strings.Join(legal, ", "))
}
