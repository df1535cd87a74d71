package invoicemock

import (
	"context"
	"errors"
	"time"

	domain "invoice-engine/internal/domain/invoice"
)

var _ domain.Repository = (*Repo)(nil)

var errUnimplemented = errors.New("invoicemock: method not implemented")

// Repo is a function-backed mock that satisfies domain.Repository.
// Unset writers are no-ops; unset readers return errUnimplemented.
type Repo struct {
	CreateFn                  func(ctx context.Context, inv *domain.Invoice) error
	CreateLineItemsFn         func(ctx context.Context, items []domain.LineItem) error
	GetByInvoiceIDFn          func(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	GetByInvoiceIDForUpdateFn func(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	ExistsByInvoiceNumberFn   func(ctx context.Context, number string) (bool, error)
	UpdateStatusFn            func(ctx context.Context, inv *domain.Invoice, next domain.Status, changedBy string, at time.Time) (bool, error)
}

func (m *Repo) Create(ctx context.Context, inv *domain.Invoice) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, inv)
	}
	return nil
}

func (m *Repo) CreateLineItems(ctx context.Context, items []domain.LineItem) error {
	if m.CreateLineItemsFn != nil {
		return m.CreateLineItemsFn(ctx, items)
	}
	return nil
}

func (m *Repo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if m.GetByInvoiceIDFn != nil {
		return m.GetByInvoiceIDFn(ctx, invoiceID)
	}
	return nil, errUnimplemented
}

func (m *Repo) GetByInvoiceIDForUpdate(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if m.GetByInvoiceIDForUpdateFn != nil {
		return m.GetByInvoiceIDForUpdateFn(ctx, invoiceID)
	}
	return nil, errUnimplemented
}

func (m *Repo) ExistsByInvoiceNumber(ctx context.Context, number string) (bool, error) {
	if m.ExistsByInvoiceNumberFn != nil {
		return m.ExistsByInvoiceNumberFn(ctx, number)
	}
	return false, nil
}

func (m *Repo) UpdateStatus(ctx context.Context, inv *domain.Invoice, next domain.Status, changedBy string, at time.Time) (bool, error) {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, inv, next, changedBy, at)
	}
	return false, errUnimplemented
}
