package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"invoice-engine/internal/domain/invoice"
)

type InvoiceRepository struct{ db *gorm.DB }

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository { return &InvoiceRepository{db: db} }

// Create inserts the invoice row only; line items go through CreateLineItems.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(inv).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return invoice.ErrDuplicateInvoiceNumber
	}
	return err
}

func (r *InvoiceRepository) CreateLineItems(ctx context.Context, items []invoice.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *InvoiceRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	var out invoice.Invoice
	res := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("invoice_id = ?", invoiceID).
		First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, invoice.ErrNotFound
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &out, nil
}

// GetByInvoiceIDForUpdate issues SELECT ... FOR UPDATE; dialects without
// row locks (sqlite) drop the clause.
func (r *InvoiceRepository) GetByInvoiceIDForUpdate(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	var out invoice.Invoice
	res := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("invoice_id = ?", invoiceID).
		First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, invoice.ErrNotFound
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &out, nil
}

func (r *InvoiceRepository) ExistsByInvoiceNumber(ctx context.Context, number string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&invoice.Invoice{}).
		Where("invoice_number = ?", number).
		Count(&n).Error
	return n > 0, err
}

func (r *InvoiceRepository) UpdateStatus(ctx context.Context, inv *invoice.Invoice, next invoice.Status, changedBy string, at time.Time) (bool, error) {
	now := at.UTC()
	res := r.db.WithContext(ctx).Model(&invoice.Invoice{}).
		Where("id = ? AND version = ?", inv.ID, inv.Version).
		Updates(map[string]any{
			"status":         next,
			"processed_by":   changedBy,
			"processed_date": now,
			"version":        inv.Version + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	inv.Status = next
	inv.ProcessedBy = &changedBy
	inv.ProcessedDate = &now
	inv.Version++
	inv.UpdatedAt = now
	return true, nil
}
