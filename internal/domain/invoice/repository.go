package invoice

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	CreateLineItems(ctx context.Context, items []LineItem) error
	GetByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error)
	// GetByInvoiceIDForUpdate reads the row under a row-level lock; only meaningful inside a tx.
	GetByInvoiceIDForUpdate(ctx context.Context, invoiceID string) (*Invoice, error)
	ExistsByInvoiceNumber(ctx context.Context, number string) (bool, error)
	// UpdateStatus is a compare-and-set on Version. It returns false when the row
	// moved on since inv was read; on success inv.Version is advanced and
	// ProcessedDate is set to at.
	UpdateStatus(ctx context.Context, inv *Invoice, next Status, changedBy string, at time.Time) (bool, error)
}
