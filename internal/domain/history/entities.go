package history

import (
	"strings"
	"time"

	"invoice-engine/internal/domain/invoice"
)

type Origin string

const (
	OriginManual    Origin = "manual"
	OriginAutomated Origin = "automated"
	OriginSystem    Origin = "system"
)

// ReasonCreated is the reason recorded on the row seeded at assembly.
const ReasonCreated = "Created"

// DefaultActor is recorded as ChangedBy when no user is supplied.
const DefaultActor = "System"

// Actor returns user, or fallback (then DefaultActor) when user is blank.
func Actor(user, fallback string) string {
	if u := strings.TrimSpace(user); u != "" {
		return u
	}
	if f := strings.TrimSpace(fallback); f != "" {
		return f
	}
	return DefaultActor
}

// Table: invoice_status_history. Rows are append-only.
type StatusHistory struct {
	ID         uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	InvoiceID  uint64          `gorm:"column:invoice_id;not null;index:idx_history_invoice_changed,priority:1" json:"-"`
	FromStatus *invoice.Status `gorm:"column:from_status" json:"from_status"`
	ToStatus   invoice.Status  `gorm:"column:to_status;not null" json:"to_status"`
	ChangedBy  string          `gorm:"column:changed_by;size:64;not null" json:"changed_by"`
	Reason     string          `gorm:"column:reason;type:text" json:"reason,omitempty"`
	Origin     Origin          `gorm:"column:origin;size:16;not null" json:"origin"`
	ChangedAt  time.Time       `gorm:"column:changed_at;not null;index:idx_history_invoice_changed,priority:2" json:"changed_at"`
}

func (StatusHistory) TableName() string { return "invoice_status_history" }
