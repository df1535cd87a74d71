package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/domain/uow"
	"invoice-engine/internal/extract"
	"invoice-engine/internal/ocr"
	"invoice-engine/internal/testutil/historymock"
	"invoice-engine/internal/testutil/invoicemock"
	"invoice-engine/internal/testutil/uowmock"
	"invoice-engine/internal/usecase/assembly"
)

var scanned = []string{
	"ACME Supplies Ltd",
	"Invoice No: INV-2024-001",
	"Invoice Date: 2024-03-05",
	"Widget A 2 10.00 20.00",
	"Subtotal 20.00",
	"VAT 2.00",
	"Total EUR 22.00",
}

type enqueued struct {
	invoiceID string
	action    domainLifecycle.Action
	userID    string
}

type fakeEnqueuer struct {
	calls []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueWorkflowAction(_ context.Context, invoiceID string, action domainLifecycle.Action, userID string) error {
	f.calls = append(f.calls, enqueued{invoiceID, action, userID})
	return f.err
}

type fakeAssembler struct {
	calls int
	fn    func(in assembly.Input) (*invoice.Invoice, error)
}

func (f *fakeAssembler) Assemble(_ context.Context, in assembly.Input) (*invoice.Invoice, error) {
	f.calls++
	return f.fn(in)
}

func writeDoc(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o600))
	return p
}

func orchestrator(lines []string, err error) *ocr.Orchestrator {
	p := ocr.ProviderFunc(func(context.Context, string) ([]string, error) { return lines, err })
	return ocr.New(p, ocr.Config{MaxAttempts: 1})
}

func TestIngest_EndToEnd(t *testing.T) {
	hist := &historymock.Repo{}
	var items []invoice.LineItem
	invs := &invoicemock.Repo{
		CreateFn: func(_ context.Context, inv *invoice.Invoice) error { inv.ID = 5; return nil },
		CreateLineItemsFn: func(_ context.Context, li []invoice.LineItem) error {
			items = li
			return nil
		},
	}
	asm := assembly.NewAssembler(uowmock.Passthrough(uow.Repos{Invoices: invs, History: hist}))
	enq := &fakeEnqueuer{}

	u := NewUsecase(orchestrator(scanned, nil), asm, WithAutoSubmit(enq))
	out, err := u.Ingest(context.Background(), Input{
		Path:       writeDoc(t),
		File:       invoice.FileMeta{Name: "invoice.pdf", ContentType: "application/pdf", Size: 8},
		UploadedBy: "alice",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Invoice)

	inv := out.Invoice
	assert.Equal(t, "INV-2024-001", inv.InvoiceNumber)
	assert.Equal(t, "ACME Supplies Ltd", inv.VendorName)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), inv.InvoiceDate)
	assert.Equal(t, 22.0, inv.Value)
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, invoice.UnknownVendorTaxID, inv.VendorTaxID)
	assert.Equal(t, invoice.StatusSubmitted, inv.Status)

	require.Len(t, items, 1)
	assert.Equal(t, "Widget A", items[0].Description)
	assert.Equal(t, 2.0, items[0].Quantity)
	assert.Equal(t, 1.0, items[0].ConfidenceScore)

	require.NotNil(t, out.OCR.Subtotal)
	assert.Equal(t, 20.0, *out.OCR.Subtotal)
	require.NotNil(t, out.OCR.TaxAmount)
	assert.Equal(t, 2.0, *out.OCR.TaxAmount)
	assert.Equal(t, 1.0, out.OCR.FieldConfidence[FieldLineItems])

	assert.True(t, out.AutoSubmitQueued)
	assert.Equal(t, []enqueued{{inv.InvoiceID, domainLifecycle.ActionSubmitForReview, "alice"}}, enq.calls)
	assert.Len(t, hist.Rows(), 1)
}

func TestIngest_OCRFailureReturnsPartialResult(t *testing.T) {
	asm := &fakeAssembler{fn: func(assembly.Input) (*invoice.Invoice, error) {
		t.Fatal("assembler must not run after an OCR failure")
		return nil, nil
	}}
	u := NewUsecase(orchestrator(nil, &ocr.Error{Kind: ocr.KindConfiguration, Op: "recognize", Err: ocr.ErrMissingCredentials}), asm)

	out, err := u.Ingest(context.Background(), Input{Path: writeDoc(t)})
	require.Error(t, err)
	assert.Equal(t, ocr.KindConfiguration, ocr.KindOf(err))
	require.NotNil(t, out)
	assert.Nil(t, out.Invoice)
	assert.False(t, out.OCR.IsProcessed)
	assert.NotEmpty(t, out.OCR.ErrorMessage)
	assert.Zero(t, asm.calls)
}

func TestIngest_ValidationErrorKeepsOCR(t *testing.T) {
	asm := assembly.NewAssembler(uowmock.New())
	u := NewUsecase(orchestrator([]string{"Widget A 2 10.00 20.00", "Total 20.00"}, nil), asm)

	out, err := u.Ingest(context.Background(), Input{Path: writeDoc(t)})
	var verr *invoice.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{invoice.FieldInvoiceNumber, invoice.FieldInvoiceDate, invoice.FieldVendorName}, verr.Fields())
	require.NotNil(t, out)
	assert.Len(t, out.OCR.LineItems, 1)
	assert.True(t, out.OCR.IsProcessed)
}

func TestIngest_EnqueueFailureIsNotFatal(t *testing.T) {
	asm := &fakeAssembler{fn: func(in assembly.Input) (*invoice.Invoice, error) {
		return &invoice.Invoice{InvoiceID: "abc"}, nil
	}}
	enq := &fakeEnqueuer{err: errors.New("redis down")}

	out, err := NewUsecase(orchestrator(scanned, nil), asm, WithAutoSubmit(enq)).
		Ingest(context.Background(), Input{Path: writeDoc(t)})
	require.NoError(t, err)
	assert.False(t, out.AutoSubmitQueued)
	assert.Len(t, enq.calls, 1)
}

func TestIngest_PassesUploadMetadata(t *testing.T) {
	project := "PRJ-1"
	var got assembly.Input
	asm := &fakeAssembler{fn: func(in assembly.Input) (*invoice.Invoice, error) {
		got = in
		return &invoice.Invoice{InvoiceID: "abc"}, nil
	}}
	_, err := NewUsecase(orchestrator(scanned, nil), asm).Ingest(context.Background(), Input{
		Path:       writeDoc(t),
		File:       invoice.FileMeta{Name: "a.pdf", Size: 8},
		ProjectID:  &project,
		UploadedBy: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.File.Name)
	assert.Equal(t, &project, got.ProjectID)
	assert.Equal(t, "bob", got.CreatedBy)
}

func TestEnrich_KeepsOCRValuesAndFillsGaps(t *testing.T) {
	ocrTotal := 99.0
	res := invoice.OcrResult{
		TotalAmount:     &ocrTotal,
		Currency:        "GBP",
		IsProcessed:     false,
		ErrorMessage:    "no usable fields",
		FieldConfidence: nil,
	}
	Enrich(&res, extract.Parse("Bolts 4 x 2.50 10.00\nDiscount 1.00\nTotal USD 9.00", extract.Options{}))

	assert.Equal(t, 99.0, *res.TotalAmount)
	assert.Equal(t, "GBP", res.Currency)
	require.NotNil(t, res.Discount)
	assert.Equal(t, 1.0, *res.Discount)
	require.Len(t, res.LineItems, 1)
	assert.Equal(t, 1, res.LineItems[0].Position)
	assert.True(t, res.IsProcessed)
	assert.Empty(t, res.ErrorMessage)

	empty := invoice.OcrResult{}
	Enrich(&empty, extract.Parse("", extract.Options{}))
	assert.False(t, empty.IsProcessed)
	assert.True(t, empty.LowConfidence)
	assert.NotNil(t, empty.LineItems)
}

func TestEnrich_LocaleHint(t *testing.T) {
	res := invoice.OcrResult{}
	Enrich(&res, extract.Parse("Consulting 1 1.250,00 1.250,00", extract.Options{Locale: extract.ParseLocale("comma")}))
	require.Len(t, res.LineItems, 1)
	assert.Equal(t, 1250.0, res.LineItems[0].Amount)
}

func TestIngest_LocaleHintReachesStoredTotal(t *testing.T) {
	lines := []string{
		"ACME Supplies Ltd",
		"Invoice No: INV-2024-002",
		"Widget A 2 10,00 20,00",
		"Widget B 1 5,00 5,00",
		"Total €1.234",
	}
	totalFor := func(locale string) float64 {
		var got *float64
		asm := &fakeAssembler{fn: func(in assembly.Input) (*invoice.Invoice, error) {
			got = in.Result.TotalAmount
			return &invoice.Invoice{InvoiceID: "x"}, nil
		}}
		_, err := NewUsecase(orchestrator(lines, nil), asm).Ingest(context.Background(), Input{Path: writeDoc(t), Locale: locale})
		require.NoError(t, err)
		require.NotNil(t, got)
		return *got
	}

	assert.Equal(t, 1234.0, totalFor(""))
	assert.InDelta(t, 1.234, totalFor("dot"), 1e-9)
}
