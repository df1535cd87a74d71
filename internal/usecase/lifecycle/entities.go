package lifecycle

import (
	"time"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
)

type ChangeStatusInput struct {
	InvoiceID string         `json:"-"`
	Status    invoice.Status `json:"status"`
	ChangedBy string         `json:"-"`
	Reason    string         `json:"reason"`
	// ExpectedVersion is the version the caller read. When nil, the version
	// read at the start of the call is used.
	ExpectedVersion *uint64 `json:"expected_version,omitempty"`
}

type StatusChangeDTO struct {
	InvoiceID string         `json:"invoice_id"`
	From      invoice.Status `json:"from_status"`
	To        invoice.Status `json:"to_status"`
	ChangedBy string         `json:"changed_by"`
	Reason    string         `json:"reason,omitempty"`
	Origin    history.Origin `json:"origin"`
	ChangedAt time.Time      `json:"changed_at"`
	Version   uint64         `json:"version"`
}

type TransitionsDTO struct {
	InvoiceID string           `json:"invoice_id"`
	Current   invoice.Status   `json:"current_status"`
	Valid     []invoice.Status `json:"valid_transitions"`
	Manual    []invoice.Status `json:"manual_transitions"`
	Terminal  bool             `json:"terminal"`
}

type HistoryDTO struct {
	InvoiceID  string          `json:"invoice_id"`
	FromStatus *invoice.Status `json:"from_status"`
	ToStatus   invoice.Status  `json:"to_status"`
	ChangedBy  string          `json:"changed_by"`
	Reason     string          `json:"reason,omitempty"`
	Origin     history.Origin  `json:"origin"`
	ChangedAt  time.Time       `json:"changed_at"`
}

func toHistoryDTO(invoiceID string, h history.StatusHistory) HistoryDTO {
	return HistoryDTO{
		InvoiceID:  invoiceID,
		FromStatus: h.FromStatus,
		ToStatus:   h.ToStatus,
		ChangedBy:  h.ChangedBy,
		Reason:     h.Reason,
		Origin:     h.Origin,
		ChangedAt:  h.ChangedAt,
	}
}
