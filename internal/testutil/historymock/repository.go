package historymock

import (
	"context"
	"sync"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
)

var _ history.Repository = (*Repo)(nil)

// Repo is a function-backed mock of history.Repository. With AppendFn unset
// it records appended rows so tests can inspect them.
type Repo struct {
	AppendFn        func(ctx context.Context, h *history.StatusHistory) error
	ListByInvoiceFn func(ctx context.Context, invoiceNumericID uint64) ([]history.StatusHistory, error)
	LastEnteringFn  func(ctx context.Context, invoiceNumericID uint64, s invoice.Status) (*history.StatusHistory, error)

	mu       sync.Mutex
	Appended []history.StatusHistory
}

func (m *Repo) Append(ctx context.Context, h *history.StatusHistory) error {
	if m.AppendFn != nil {
		return m.AppendFn(ctx, h)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Appended = append(m.Appended, *h)
	return nil
}

func (m *Repo) ListByInvoice(ctx context.Context, invoiceNumericID uint64) ([]history.StatusHistory, error) {
	if m.ListByInvoiceFn != nil {
		return m.ListByInvoiceFn(ctx, invoiceNumericID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.StatusHistory
	for _, h := range m.Appended {
		if h.InvoiceID == invoiceNumericID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Repo) LastEntering(ctx context.Context, invoiceNumericID uint64, s invoice.Status) (*history.StatusHistory, error) {
	if m.LastEnteringFn != nil {
		return m.LastEnteringFn(ctx, invoiceNumericID, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Appended) - 1; i >= 0; i-- {
		h := m.Appended[i]
		if h.InvoiceID == invoiceNumericID && h.ToStatus == s {
			return &h, nil
		}
	}
	return nil, nil
}

// Rows returns a copy of the recorded rows.
func (m *Repo) Rows() []history.StatusHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.StatusHistory(nil), m.Appended...)
}
