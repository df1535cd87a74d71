package uow

import (
	"context"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
)

type Repos struct {
	Invoices invoice.Repository
	History  history.Repository
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// lock the invoice row first, then pass it in
	WithinInvoiceTx(ctx context.Context, invoiceID string, fn func(r Repos, inv *invoice.Invoice) error) error
}
