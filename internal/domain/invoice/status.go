package invoice

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the invoice lifecycle status. The numeric values are stored in the
// database and sent over the wire; never renumber them.
type Status int

const (
	StatusSubmitted   Status = 0
	StatusUnderReview Status = 1
	StatusApproved    Status = 2
	StatusInProgress  Status = 3
	StatusPmoReview   Status = 4
	StatusCompleted   Status = 5
	StatusRejected    Status = 6
	StatusCancelled   Status = 7
	StatusOnHold      Status = 8
)

var statusNames = [...]string{
	StatusSubmitted:   "Submitted",
	StatusUnderReview: "UnderReview",
	StatusApproved:    "Approved",
	StatusInProgress:  "InProgress",
	StatusPmoReview:   "PmoReview",
	StatusCompleted:   "Completed",
	StatusRejected:    "Rejected",
	StatusCancelled:   "Cancelled",
	StatusOnHold:      "OnHold",
}

// AllStatuses lists every defined status in numeric order.
func AllStatuses() []Status {
	out := make([]Status, len(statusNames))
	for i := range statusNames {
		out[i] = Status(i)
	}
	return out
}

func (s Status) Valid() bool { return s >= StatusSubmitted && s <= StatusOnHold }

func (s Status) String() string {
	if !s.Valid() {
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// ParseStatus accepts either the wire integer ("2") or the name ("Approved",
// case-insensitive).
func ParseStatus(raw string) (Status, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		s := Status(n)
		if !s.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, n)
		}
		return s, nil
	}
	for i, name := range statusNames {
		if strings.EqualFold(name, raw) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}
