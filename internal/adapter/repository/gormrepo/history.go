package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
)

type HistoryRepository struct{ db *gorm.DB }

func NewHistoryRepository(db *gorm.DB) *HistoryRepository { return &HistoryRepository{db: db} }

func (r *HistoryRepository) Append(ctx context.Context, h *history.StatusHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *HistoryRepository) ListByInvoice(ctx context.Context, invoiceNumericID uint64) ([]history.StatusHistory, error) {
	var out []history.StatusHistory
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceNumericID).
		Order("changed_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// LastEntering returns nil, nil when the invoice never entered s.
func (r *HistoryRepository) LastEntering(ctx context.Context, invoiceNumericID uint64, s invoice.Status) (*history.StatusHistory, error) {
	var out history.StatusHistory
	res := r.db.WithContext(ctx).
		Where("invoice_id = ? AND to_status = ?", invoiceNumericID, s).
		Order("changed_at DESC, id DESC").
		First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &out, nil
}
