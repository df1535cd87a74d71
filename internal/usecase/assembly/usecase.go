// Package assembly turns an OCR result into a persisted invoice in the
// Submitted status, together with its line items and the seeded audit row.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
	"invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/domain/uow"
	"invoice-engine/pkg/id"
)

type Input struct {
	Result    invoice.OcrResult
	File      invoice.FileMeta
	ProjectID *string
	CreatedBy string
}

// draft is the validated shape of an invoice before it is stored.
type draft struct {
	InvoiceNumber string     `json:"invoice_number" validate:"required,max=64"`
	InvoiceDate   *time.Time `json:"invoice_date" validate:"required"`
	Amount        *float64   `json:"amount" validate:"required,gte=0"`
	VendorName    string     `json:"vendor_name" validate:"required,max=255"`
	VendorTaxID   string     `json:"vendor_tax_id" validate:"max=64"`
	Currency      string     `json:"currency" validate:"omitempty,len=3,alpha"`
}

type Assembler struct {
	tx           uow.UnitOfWork
	v            *validator.Validate
	defaultActor string
	log          *slog.Logger
	now          func() time.Time
}

type Option func(*Assembler)

func WithDefaultActor(actor string) Option { return func(a *Assembler) { a.defaultActor = actor } }
func WithLogger(l *slog.Logger) Option { return func(a *Assembler) { a.log = l } }
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

func NewAssembler(tx uow.UnitOfWork, opts ...Option) *Assembler {
	a := &Assembler{
		tx:           tx,
		v:            newValidator(),
		defaultActor: history.DefaultActor,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// newValidator reports fields by their json names so violations line up
// with the wire format.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Assemble validates in.Result and, when every required field is present,
// stores a new invoice at Submitted with a "Created" history row.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*invoice.Invoice, error) {
	d := toDraft(in.Result)
	if err := a.validate(d); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	actor := history.Actor(in.CreatedBy, a.defaultActor)
	taxID := d.VendorTaxID
	if taxID == "" {
		taxID = invoice.UnknownVendorTaxID
	}

	inv := &invoice.Invoice{
		InvoiceID:     id.NewID32(),
		InvoiceNumber: d.InvoiceNumber,
		VendorName:    d.VendorName,
		VendorTaxID:   taxID,
		InvoiceDate:   d.InvoiceDate.UTC(),
		Value:         *d.Amount,
		Currency:      d.Currency,
		ProjectID:     in.ProjectID,
		Status:        lifecycle.InitialStatus,
		FileName:      in.File.Name,
		ContentType:   in.File.ContentType,
		FileSize:      in.File.Size,
		OcrConfidence: in.Result.ConfidenceScore,
		Version:       1,
	}

	err := a.tx.WithinTx(ctx, func(r uow.Repos) error {
		exists, err := r.Invoices.ExistsByInvoiceNumber(ctx, inv.InvoiceNumber)
		if err != nil {
			return err
		}
		if exists {
			return invoice.ErrDuplicateInvoiceNumber
		}
		if err := r.Invoices.Create(ctx, inv); err != nil {
			return err
		}

		items := make([]invoice.LineItem, 0, len(in.Result.LineItems))
		for i, li := range in.Result.LineItems {
			li.ID = 0
			li.InvoiceID = inv.ID
			li.Position = i + 1
			items = append(items, li)
		}
		if err := r.Invoices.CreateLineItems(ctx, items); err != nil {
			return err
		}
		inv.LineItems = items

		return r.History.Append(ctx, &history.StatusHistory{
			InvoiceID: inv.ID,
			ToStatus:  inv.Status,
			ChangedBy: actor,
			Reason:    history.ReasonCreated,
			Origin:    history.OriginSystem,
			ChangedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	a.log.InfoContext(ctx, "invoice assembled",
		slog.String("invoice_id", inv.InvoiceID),
		slog.String("invoice_number", inv.InvoiceNumber),
		slog.Int("line_items", len(inv.LineItems)),
		slog.String("created_by", actor))
	return inv, nil
}

func toDraft(r invoice.OcrResult) draft {
	return draft{
		InvoiceNumber: strings.TrimSpace(r.InvoiceNumber),
		InvoiceDate:   r.InvoiceDate,
		Amount:        r.Amount(),
		VendorName:    strings.TrimSpace(r.VendorName),
		VendorTaxID:   strings.TrimSpace(r.VendorTaxID),
		Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
	}
}

// validate collects every violation into one *invoice.ValidationError.
func (a *Assembler) validate(d draft) error {
	err := a.v.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &invoice.ValidationError{Violations: make([]invoice.FieldViolation, 0, len(verrs))}
	for _, fe := range verrs {
		out.Violations = append(out.Violations, invoice.FieldViolation{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must not be negative"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "alpha":
		return "must contain letters only"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
