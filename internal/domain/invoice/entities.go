package invoice

import (
	"time"
)

// UnknownVendorTaxID is stored when OCR could not recover the vendor tax id.
// A separate vendor-matching process reconciles it later.
const UnknownVendorTaxID = "PENDING-VENDOR-MATCH"

// Table: invoices
type Invoice struct {
	ID            uint64     `gorm:"primaryKey;column:id" json:"-"`
	InvoiceID     string     `gorm:"column:invoice_id;type:char(32);not null;uniqueIndex:ux_invoices_invoice_id" json:"invoice_id"`
	InvoiceNumber string     `gorm:"column:invoice_number;size:64;not null;uniqueIndex:ux_invoices_invoice_number" json:"invoice_number"`
	VendorName    string     `gorm:"column:vendor_name;size:255;not null" json:"vendor_name"`
	VendorTaxID   string     `gorm:"column:vendor_tax_id;size:64;not null" json:"vendor_tax_id"`
	InvoiceDate   time.Time  `gorm:"column:invoice_date;type:date;not null" json:"invoice_date"`
	Value         float64    `gorm:"column:value;type:decimal(18,2);not null" json:"value"`
	Currency      string     `gorm:"column:currency;size:3" json:"currency"`
	ProjectID     *string    `gorm:"column:project_id;size:64;index" json:"project_id,omitempty"`
	Status        Status     `gorm:"column:status;not null;default:0;index" json:"status"`
	ProcessedBy   *string    `gorm:"column:processed_by;size:64" json:"processed_by,omitempty"`
	ProcessedDate *time.Time `gorm:"column:processed_date" json:"processed_date,omitempty"`
	FileName      string     `gorm:"column:file_name;size:255" json:"file_name"`
	ContentType   string     `gorm:"column:content_type;size:100" json:"content_type"`
	FileSize      int64      `gorm:"column:file_size" json:"file_size"`
	OcrConfidence float64    `gorm:"column:ocr_confidence;type:decimal(5,4)" json:"ocr_confidence"`
	// Version is bumped by every status change; updates are conditional on it.
	Version   uint64     `gorm:"column:version;not null;default:1" json:"version"`
	LineItems []LineItem `gorm:"foreignKey:InvoiceID;references:ID" json:"line_items,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// Table: invoice_line_items
type LineItem struct {
	ID              uint64  `gorm:"primaryKey;column:id" json:"-"`
	InvoiceID       uint64  `gorm:"column:invoice_id;not null;index" json:"-"`
	Position        int     `gorm:"column:position;not null" json:"position"`
	Description     string  `gorm:"column:description;type:text" json:"description"`
	Quantity        float64 `gorm:"column:quantity;type:decimal(18,4)" json:"quantity"`
	UnitPrice       float64 `gorm:"column:unit_price;type:decimal(18,4)" json:"unit_price"`
	Amount          float64 `gorm:"column:amount;type:decimal(18,2)" json:"amount"`
	ConfidenceScore float64 `gorm:"column:confidence_score;type:decimal(5,4)" json:"confidence_score"`
}

func (LineItem) TableName() string { return "invoice_line_items" }

// FileMeta describes the uploaded document an invoice was read from.
type FileMeta struct {
	Name        string
	ContentType string
	Size        int64
}
