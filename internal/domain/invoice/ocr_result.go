package invoice

import "time"

// Field names used in OcrResult.FieldConfidence and in validation errors.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldVendorName    = "vendor_name"
	FieldVendorTaxID   = "vendor_tax_id"
	FieldAmount        = "amount"
	FieldTotalAmount   = "total_amount"
	FieldCurrency      = "currency"
)

// OcrResult is the transient output of OCR + extraction for one upload.
// Pointer fields are nil when the value was not recovered.
type OcrResult struct {
	IsProcessed  bool   `json:"is_processed"`
	ErrorMessage string `json:"error_message,omitempty"`

	InvoiceNumber string     `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time `json:"invoice_date,omitempty"`
	VendorName    string     `json:"vendor_name,omitempty"`
	VendorTaxID   string     `json:"vendor_tax_id,omitempty"`
	InvoiceValue  *float64   `json:"invoice_value,omitempty"`
	TotalAmount   *float64   `json:"total_amount,omitempty"`
	Subtotal      *float64   `json:"subtotal,omitempty"`
	TaxAmount     *float64   `json:"tax_amount,omitempty"`
	Discount      *float64   `json:"discount,omitempty"`
	Currency      string     `json:"currency,omitempty"`

	LineItems       []LineItem         `json:"line_items"`
	RawText         string             `json:"raw_text"`
	ConfidenceScore float64            `json:"confidence_score"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
	// LowConfidence is set when the document as a whole could not be read reliably.
	LowConfidence bool `json:"low_confidence"`
}

// Amount returns the invoice value, falling back to the total.
func (r *OcrResult) Amount() *float64 {
	if r.InvoiceValue != nil {
		return r.InvoiceValue
	}
	return r.TotalAmount
}

// HasUsableFields reports whether at least one header field was recovered.
func (r *OcrResult) HasUsableFields() bool {
	return r.InvoiceNumber != "" || r.InvoiceDate != nil || r.VendorName != "" ||
		r.VendorTaxID != "" || r.Amount() != nil || len(r.LineItems) > 0
}
