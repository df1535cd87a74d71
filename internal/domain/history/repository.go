package history

import (
	"context"

	"invoice-engine/internal/domain/invoice"
)

// Repository has no update or delete: history is an audit trail.
type Repository interface {
	Append(ctx context.Context, h *StatusHistory) error
	// ListByInvoice returns rows oldest first.
	ListByInvoice(ctx context.Context, invoiceNumericID uint64) ([]StatusHistory, error)
	// LastEntering returns the newest row whose ToStatus is s.
	LastEntering(ctx context.Context, invoiceNumericID uint64, s invoice.Status) (*StatusHistory, error)
}
