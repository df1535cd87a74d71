// Package ingest runs an uploaded document through OCR, line item
// extraction and assembly, and optionally queues it for review.
package ingest

import (
	"context"
	"log/slog"

	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/extract"
	"invoice-engine/internal/usecase/assembly"
)

// FieldLineItems is the FieldConfidence key for the extracted items.
const FieldLineItems = "line_items"

type OCR interface {
	Process(ctx context.Context, path string, locale extract.Locale) (invoice.OcrResult, error)
}

type Assembler interface {
	Assemble(ctx context.Context, in assembly.Input) (*invoice.Invoice, error)
}

// Enqueuer schedules an automated workflow action; the jobs package implements it.
type Enqueuer interface {
	EnqueueWorkflowAction(ctx context.Context, invoiceID string, action domainLifecycle.Action, userID string) error
}

type Input struct {
	Path       string
	File       invoice.FileMeta
	ProjectID  *string
	UploadedBy string
	// Locale overrides decimal separator detection ("dot", "comma", "" for auto).
	Locale string
}

type Result struct {
	Invoice          *invoice.Invoice  `json:"invoice,omitempty"`
	OCR              invoice.OcrResult `json:"ocr"`
	AutoSubmitQueued bool              `json:"auto_submit_queued"`
}

type Usecase struct {
	ocr        OCR
	assembler  Assembler
	enqueuer   Enqueuer
	autoSubmit bool
	log        *slog.Logger
}

type Option func(*Usecase)

// WithAutoSubmit queues submit_for_review for every assembled invoice.
func WithAutoSubmit(e Enqueuer) Option {
	return func(u *Usecase) {
		u.enqueuer = e
		u.autoSubmit = e != nil
	}
}

func WithLogger(l *slog.Logger) Option { return func(u *Usecase) { u.log = l } }

func NewUsecase(o OCR, a Assembler, opts ...Option) *Usecase {
	u := &Usecase{ocr: o, assembler: a, log: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Ingest always returns a non-nil Result. On error it carries whatever was
// recovered so callers can show the partial OCR output.
func (u *Usecase) Ingest(ctx context.Context, in Input) (*Result, error) {
	loc := extract.ParseLocale(in.Locale)
	res, err := u.ocr.Process(ctx, in.Path, loc)
	if err != nil {
		u.log.WarnContext(ctx, "ocr failed",
			slog.String("file", in.File.Name), slog.Any("err", err))
		return &Result{OCR: res}, err
	}

	Enrich(&res, extract.Parse(res.RawText, extract.Options{Locale: loc}))

	inv, err := u.assembler.Assemble(ctx, assembly.Input{
		Result:    res,
		File:      in.File,
		ProjectID: in.ProjectID,
		CreatedBy: in.UploadedBy,
	})
	if err != nil {
		return &Result{OCR: res}, err
	}

	out := &Result{Invoice: inv, OCR: res}
	if u.autoSubmit {
		// the invoice is stored either way; a failed enqueue only skips auto-submit
		if err := u.enqueuer.EnqueueWorkflowAction(ctx, inv.InvoiceID, domainLifecycle.ActionSubmitForReview, in.UploadedBy); err != nil {
			u.log.ErrorContext(ctx, "enqueue auto-submit failed",
				slog.String("invoice_id", inv.InvoiceID), slog.Any("err", err))
		} else {
			out.AutoSubmitQueued = true
		}
	}
	return out, nil
}

// Enrich fills the gaps of an OCR result from the extractor: line items,
// footer values the field guesses missed, and the currency.
func Enrich(res *invoice.OcrResult, ex extract.Result) {
	items := make([]invoice.LineItem, 0, len(ex.Items))
	for i, it := range ex.Items {
		items = append(items, invoice.LineItem{
			Position:        i + 1,
			Description:     it.Description,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			Amount:          it.Amount,
			ConfidenceScore: it.Confidence,
		})
	}
	res.LineItems = items

	if res.Subtotal == nil {
		res.Subtotal = ex.Summary.Subtotal
	}
	if res.TaxAmount == nil {
		res.TaxAmount = ex.Summary.Tax
	}
	if res.Discount == nil {
		res.Discount = ex.Summary.Discount
	}
	if res.TotalAmount == nil {
		res.TotalAmount = ex.Summary.Total
	}
	if res.Currency == "" {
		res.Currency = ex.Currency
	}

	if res.FieldConfidence == nil {
		res.FieldConfidence = map[string]float64{}
	}
	res.FieldConfidence[FieldLineItems] = ex.Confidence
	res.LowConfidence = res.LowConfidence || ex.LowConfidence

	res.IsProcessed = res.HasUsableFields()
	if res.IsProcessed {
		res.ErrorMessage = ""
	}
}
