// Package lifecycle applies status changes to stored invoices. Manual changes
// and automated workflow actions share one transition path: a per-invoice
// lock, a row-locked transaction and a version compare-and-set, so each
// change writes exactly one audit row or none at all.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/domain/uow"
	"invoice-engine/internal/infrastructure/lock"
)

const defaultMaxRetries = 3

// errStale rolls back an attempt whose compare-and-set lost the race.
var errStale = errors.New("invoice version moved")

// Recorder receives transition outcomes; *observability.Metrics implements it.
type Recorder interface {
	ObserveTransition(from, to, origin string)
	ObserveRejection(origin string)
	ObserveConflict()
}

type Usecase struct {
	invoices     invoice.Repository
	history      history.Repository
	tx           uow.UnitOfWork
	locker       lock.Locker
	rec          Recorder
	maxRetries   int
	defaultActor string
	log          *slog.Logger
	now          func() time.Time
}

type Option func(*Usecase)

func WithLocker(l lock.Locker) Option { return func(u *Usecase) { u.locker = l } }
func WithRecorder(r Recorder) Option { return func(u *Usecase) { u.rec = r } }
func WithLogger(l *slog.Logger) Option { return func(u *Usecase) { u.log = l } }
func WithDefaultActor(a string) Option { return func(u *Usecase) { u.defaultActor = a } }
func WithClock(f func() time.Time) Option { return func(u *Usecase) { u.now = f } }

// WithMaxRetries bounds the optimistic retries per change; values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(u *Usecase) {
		if n >= 1 {
			u.maxRetries = n
		}
	}
}

// NewUsecase: repos serve the read paths, the UoW serves every mutation.
func NewUsecase(invoices invoice.Repository, hist history.Repository, tx uow.UnitOfWork, opts ...Option) *Usecase {
	u := &Usecase{
		invoices:     invoices,
		history:      hist,
		tx:           tx,
		locker:       lock.NewKeyedMutex(),
		maxRetries:   defaultMaxRetries,
		defaultActor: history.DefaultActor,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *Usecase) Get(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	return u.invoices.GetByInvoiceID(ctx, invoiceID)
}

// History returns the audit trail of an invoice, oldest first.
func (u *Usecase) History(ctx context.Context, invoiceID string) ([]HistoryDTO, error) {
	inv, err := u.invoices.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	rows, err := u.history.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryDTO, 0, len(rows))
	for _, h := range rows {
		out = append(out, toHistoryDTO(inv.InvoiceID, h))
	}
	return out, nil
}

// GetValidTransitions lists the statuses the invoice may move to next.
func (u *Usecase) GetValidTransitions(ctx context.Context, invoiceID string) (*TransitionsDTO, error) {
	inv, err := u.invoices.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &TransitionsDTO{
		InvoiceID: inv.InvoiceID,
		Current:   inv.Status,
		Valid:     domainLifecycle.GetValidTransitions(inv.Status),
		Manual:    domainLifecycle.GetManualTransitions(inv.Status),
		Terminal:  domainLifecycle.IsTerminal(inv.Status),
	}, nil
}

// CanChangeStatus reports whether a user may move the invoice to requested.
func (u *Usecase) CanChangeStatus(ctx context.Context, invoiceID string, requested invoice.Status) (bool, error) {
	inv, err := u.invoices.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	return domainLifecycle.CanChangeStatusManually(inv.Status, requested), nil
}

// ChangeStatus is the manual path: automation-only edges are refused. The
// change applies only to the version the caller saw; if the invoice moved in
// between, ErrConcurrencyConflict is returned and nothing is written.
func (u *Usecase) ChangeStatus(ctx context.Context, in ChangeStatusInput) (*StatusChangeDTO, error) {
	expect := in.ExpectedVersion
	if expect == nil {
		seen, err := u.invoices.GetByInvoiceID(ctx, in.InvoiceID)
		if err != nil {
			return nil, err
		}
		v := seen.Version
		expect = &v
	}
	target := func(context.Context, uow.Repos, *invoice.Invoice) (invoice.Status, error) {
		return in.Status, nil
	}
	return u.apply(ctx, change{
		invoiceID: in.InvoiceID,
		target:    target,
		actor:     history.Actor(in.ChangedBy, u.defaultActor),
		reason:    in.Reason,
		origin:    history.OriginManual,
		expect:    expect,
	})
}

// ProcessWorkflowAction is the automated path: action names resolve to a
// target status and every legal edge, automation-only ones included, is open.
func (u *Usecase) ProcessWorkflowAction(ctx context.Context, invoiceID string, action domainLifecycle.Action, userID string) (*StatusChangeDTO, error) {
	if !domainLifecycle.KnownAction(action) {
		return nil, fmt.Errorf("%w: %q", invoice.ErrUnknownAction, action)
	}
	target := func(_ context.Context, _ uow.Repos, _ *invoice.Invoice) (invoice.Status, error) {
		s, _ := domainLifecycle.ActionTarget(action)
		return s, nil
	}
	if action == domainLifecycle.ActionResume {
		target = resumeTarget
	}
	return u.apply(ctx, change{
		invoiceID: invoiceID,
		target:    target,
		actor:     history.Actor(userID, u.defaultActor),
		reason:    "workflow action: " + string(action),
		origin:    history.OriginAutomated,
		action:    action,
	})
}

// resumeTarget is the status the invoice held before it last entered OnHold.
func resumeTarget(ctx context.Context, r uow.Repos, inv *invoice.Invoice) (invoice.Status, error) {
	if inv.Status != invoice.StatusOnHold {
		return 0, &invoice.InvalidTransitionError{
			From: inv.Status, Attempted: inv.Status, Legal: domainLifecycle.GetValidTransitions(inv.Status),
			Reason: "resume applies only to invoices on hold",
		}
	}
	last, err := r.History.LastEntering(ctx, inv.ID, invoice.StatusOnHold)
	if err != nil {
		return 0, err
	}
	if last == nil || last.FromStatus == nil {
		return 0, &invoice.InvalidTransitionError{
			From: inv.Status, Attempted: inv.Status, Legal: domainLifecycle.GetValidTransitions(inv.Status),
			Reason: "no status recorded before the hold",
		}
	}
	return *last.FromStatus, nil
}

type change struct {
	invoiceID string
	target    func(ctx context.Context, r uow.Repos, inv *invoice.Invoice) (invoice.Status, error)
	actor     string
	reason    string
	origin    history.Origin
	action    domainLifecycle.Action
	// expect pins the change to one version; stale attempts are not retried.
	expect *uint64
}

func (u *Usecase) apply(ctx context.Context, c change) (*StatusChangeDTO, error) {
	unlock, err := u.locker.Lock(ctx, c.invoiceID)
	if err != nil {
		return nil, fmt.Errorf("lock invoice %s: %w", c.invoiceID, err)
	}
	defer unlock()

	automated := c.origin == history.OriginAutomated
	for attempt := 1; attempt <= u.maxRetries; attempt++ {
		var dto *StatusChangeDTO
		err := u.tx.WithinInvoiceTx(ctx, c.invoiceID, func(r uow.Repos, inv *invoice.Invoice) error {
			if c.expect != nil && inv.Version != *c.expect {
				return errStale
			}
			next, err := c.target(ctx, r, inv)
			if err != nil {
				return err
			}
			from := inv.Status
			if err := domainLifecycle.Check(from, next, automated); err != nil {
				return err
			}

			at := u.now().UTC()
			ok, err := r.Invoices.UpdateStatus(ctx, inv, next, c.actor, at)
			if err != nil {
				return err
			}
			if !ok {
				return errStale
			}

			h := &history.StatusHistory{
				InvoiceID:  inv.ID,
				FromStatus: &from,
				ToStatus:   next,
				ChangedBy:  c.actor,
				Reason:     c.reason,
				Origin:     c.origin,
				ChangedAt:  at,
			}
			if err := r.History.Append(ctx, h); err != nil {
				return err
			}
			dto = &StatusChangeDTO{
				InvoiceID: inv.InvoiceID,
				From:      from,
				To:        next,
				ChangedBy: c.actor,
				Reason:    c.reason,
				Origin:    c.origin,
				ChangedAt: h.ChangedAt,
				Version:   inv.Version,
			}
			return nil
		})

		switch {
		case err == nil:
			u.observeTransition(dto)
			u.log.InfoContext(ctx, "invoice status changed",
				slog.String("invoice_id", dto.InvoiceID),
				slog.String("from", dto.From.String()),
				slog.String("to", dto.To.String()),
				slog.String("origin", string(dto.Origin)),
				slog.String("changed_by", dto.ChangedBy),
				slog.String("action", string(c.action)))
			return dto, nil
		case errors.Is(err, errStale):
			if u.rec != nil {
				u.rec.ObserveConflict()
			}
			u.log.WarnContext(ctx, "status change lost a concurrent update",
				slog.String("invoice_id", c.invoiceID), slog.Int("attempt", attempt))
			if c.expect != nil {
				return nil, invoice.ErrConcurrencyConflict
			}
			continue
		default:
			var terr *invoice.InvalidTransitionError
			if errors.As(err, &terr) && u.rec != nil {
				u.rec.ObserveRejection(string(c.origin))
			}
			return nil, err
		}
	}
	return nil, invoice.ErrConcurrencyConflict
}

func (u *Usecase) observeTransition(dto *StatusChangeDTO) {
	if u.rec == nil {
		return
	}
	u.rec.ObserveTransition(dto.From.String(), dto.To.String(), string(dto.Origin))
}
