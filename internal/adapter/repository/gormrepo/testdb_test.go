package gormrepo

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"invoice-engine/internal/domain/invoice"
	"invoice-engine/pkg/id"
)

var dbSeq atomic.Int64

// openTestDB opens a named in-memory sqlite database shared by every
// connection of the pool, and migrates the engine's tables.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func makeInvoice(number string) *invoice.Invoice {
	return &invoice.Invoice{
		InvoiceID:     id.NewID32(),
		InvoiceNumber: number,
		VendorName:    "ACME Supplies Ltd",
		VendorTaxID:   invoice.UnknownVendorTaxID,
		InvoiceDate:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Value:         22.00,
		Currency:      "EUR",
		Status:        invoice.StatusSubmitted,
		Version:       1,
	}
}
