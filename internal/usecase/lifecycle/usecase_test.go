package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/domain/uow"
	"invoice-engine/internal/testutil/historymock"
	"invoice-engine/internal/testutil/invoicemock"
	"invoice-engine/internal/testutil/uowmock"
)

var fixedNow = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu          sync.Mutex
	transitions []string
	rejections  []string
	conflicts   int
}

func (r *recorder) ObserveTransition(from, to, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+">"+to+":"+origin)
}

func (r *recorder) ObserveRejection(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, origin)
}

func (r *recorder) ObserveConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

// memFixture keeps one invoice in memory behind the function-field mocks.
type memFixture struct {
	inv      *invoice.Invoice
	invoices *invoicemock.Repo
	history  *historymock.Repo
	tx       *uowmock.UoW
	rec      *recorder
	updates  int
	txRuns   int
}

func newMemFixture(status invoice.Status) *memFixture {
	f := &memFixture{
		inv:     &invoice.Invoice{ID: 9, InvoiceID: "INV-9", InvoiceNumber: "N-9", Status: status, Version: 1},
		history: &historymock.Repo{},
		rec:     &recorder{},
	}
	load := func(_ context.Context, id string) (*invoice.Invoice, error) {
		if id != f.inv.InvoiceID {
			return nil, invoice.ErrNotFound
		}
		cp := *f.inv
		return &cp, nil
	}
	f.invoices = &invoicemock.Repo{
		GetByInvoiceIDFn:          load,
		GetByInvoiceIDForUpdateFn: load,
		UpdateStatusFn: func(_ context.Context, inv *invoice.Invoice, next invoice.Status, by string, at time.Time) (bool, error) {
			f.updates++
			if inv.Version != f.inv.Version {
				return false, nil
			}
			f.inv.Status = next
			f.inv.ProcessedBy = &by
			f.inv.ProcessedDate = &at
			f.inv.Version++
			inv.Status, inv.Version = next, f.inv.Version
			return true, nil
		},
	}
	base := uowmock.Passthrough(uow.Repos{Invoices: f.invoices, History: f.history})
	f.tx = uowmock.New().WithWithinInvoiceTx(func(ctx context.Context, id string, fn func(uow.Repos, *invoice.Invoice) error) error {
		f.txRuns++
		return base.WithinInvoiceTx(ctx, id, fn)
	})
	return f
}

func (f *memFixture) usecase(opts ...Option) *Usecase {
	opts = append([]Option{WithRecorder(f.rec), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewUsecase(f.invoices, f.history, f.tx, opts...)
}

func TestChangeStatus_Success(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	u := f.usecase()

	dto, err := u.ChangeStatus(context.Background(), ChangeStatusInput{
		InvoiceID: "INV-9", Status: invoice.StatusUnderReview, ChangedBy: "alice", Reason: "looks fine",
	})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSubmitted, dto.From)
	assert.Equal(t, invoice.StatusUnderReview, dto.To)
	assert.Equal(t, "alice", dto.ChangedBy)
	assert.Equal(t, history.OriginManual, dto.Origin)
	assert.Equal(t, uint64(2), dto.Version)
	assert.Equal(t, fixedNow, dto.ChangedAt)
	require.NotNil(t, f.inv.ProcessedDate)
	assert.Equal(t, fixedNow, *f.inv.ProcessedDate)

	assert.Equal(t, invoice.StatusUnderReview, f.inv.Status)
	rows := f.history.Rows()
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].FromStatus)
	assert.Equal(t, invoice.StatusSubmitted, *rows[0].FromStatus)
	assert.Equal(t, invoice.StatusUnderReview, rows[0].ToStatus)
	assert.Equal(t, "looks fine", rows[0].Reason)
	assert.Equal(t, []string{"Submitted>UnderReview:manual"}, f.rec.transitions)
}

func TestChangeStatus_DefaultActor(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	dto, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusOnHold})
	require.NoError(t, err)
	assert.Equal(t, history.DefaultActor, dto.ChangedBy)
	assert.Equal(t, history.DefaultActor, *f.inv.ProcessedBy)

	f = newMemFixture(invoice.StatusSubmitted)
	dto, err = f.usecase(WithDefaultActor("scheduler")).ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionHold, "")
	require.NoError(t, err)
	assert.Equal(t, "scheduler", dto.ChangedBy)
}

func TestChangeStatus_TerminalRejectsEveryTarget(t *testing.T) {
	for _, terminal := range []invoice.Status{invoice.StatusCompleted, invoice.StatusRejected, invoice.StatusCancelled} {
		for _, target := range invoice.AllStatuses() {
			f := newMemFixture(terminal)
			_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: target})

			var terr *invoice.InvalidTransitionError
			require.ErrorAs(t, err, &terr, "%s -> %s", terminal, target)
			assert.Equal(t, terminal, terr.From)
			assert.Equal(t, target, terr.Attempted)
			assert.Empty(t, terr.Legal)
			assert.Zero(t, f.updates)
			assert.Empty(t, f.history.Rows())
			assert.Equal(t, terminal, f.inv.Status)
		}
	}
}

func TestChangeStatus_SubmittedToCompletedRejected(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusCompleted})

	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, invoice.StatusSubmitted, terr.From)
	assert.Equal(t, invoice.StatusCompleted, terr.Attempted)
	assert.ElementsMatch(t, []invoice.Status{
		invoice.StatusUnderReview, invoice.StatusRejected, invoice.StatusCancelled, invoice.StatusOnHold,
	}, terr.Legal)
	assert.Equal(t, invoice.StatusSubmitted, f.inv.Status)
	assert.Empty(t, f.history.Rows())
	assert.Equal(t, []string{"manual"}, f.rec.rejections)

	_, err = f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionComplete, "bot")
	require.ErrorAs(t, err, &terr)
}

func TestChangeStatus_AutomationOnlyEdge(t *testing.T) {
	f := newMemFixture(invoice.StatusPmoReview)
	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusCompleted})

	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.NotContains(t, terr.Legal, invoice.StatusCompleted)

	dto, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionComplete, "pmo-bot")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCompleted, dto.To)
	assert.Equal(t, history.OriginAutomated, dto.Origin)
	assert.Equal(t, "workflow action: complete", dto.Reason)
}

func TestChangeStatus_SameStatusRejected(t *testing.T) {
	f := newMemFixture(invoice.StatusApproved)
	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusApproved})
	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
}

func TestChangeStatus_NotFound(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "nope", Status: invoice.StatusOnHold})
	require.ErrorIs(t, err, invoice.ErrNotFound)
}

func TestProcessWorkflowAction_RetriesLostCompareAndSet(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	inner := f.invoices.UpdateStatusFn
	lost := 1
	f.invoices.UpdateStatusFn = func(ctx context.Context, inv *invoice.Invoice, next invoice.Status, by string, at time.Time) (bool, error) {
		if lost > 0 {
			lost--
			f.inv.Version++ // someone else won
			return false, nil
		}
		return inner(ctx, inv, next, by, at)
	}

	dto, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionSubmitForReview, "bot")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), dto.Version)
	assert.Equal(t, 2, f.txRuns)
	assert.Equal(t, 1, f.rec.conflicts)
	assert.Len(t, f.history.Rows(), 1)
}

func TestProcessWorkflowAction_ConflictAfterMaxRetries(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	f.invoices.UpdateStatusFn = func(context.Context, *invoice.Invoice, invoice.Status, string, time.Time) (bool, error) {
		return false, nil
	}

	_, err := f.usecase(WithMaxRetries(4)).ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionHold, "bot")
	require.ErrorIs(t, err, invoice.ErrConcurrencyConflict)
	assert.Equal(t, 4, f.txRuns)
	assert.Equal(t, 4, f.rec.conflicts)
	assert.Empty(t, f.history.Rows())
}

func TestChangeStatus_LostCompareAndSetIsNotRetried(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	inner := f.invoices.UpdateStatusFn
	f.invoices.UpdateStatusFn = func(ctx context.Context, inv *invoice.Invoice, next invoice.Status, by string, at time.Time) (bool, error) {
		f.inv.Status, f.inv.Version = invoice.StatusOnHold, f.inv.Version+1
		return inner(ctx, inv, next, by, at)
	}

	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusUnderReview})
	require.ErrorIs(t, err, invoice.ErrConcurrencyConflict)
	assert.Equal(t, 1, f.txRuns)
	assert.Equal(t, 1, f.rec.conflicts)
	assert.Equal(t, invoice.StatusOnHold, f.inv.Status)
	assert.Empty(t, f.history.Rows())
}

func TestChangeStatus_MovedSinceCallerRead(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	stale := uint64(1)
	f.inv.Version = 2

	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{
		InvoiceID: "INV-9", Status: invoice.StatusOnHold, ExpectedVersion: &stale,
	})
	require.ErrorIs(t, err, invoice.ErrConcurrencyConflict)
	assert.Zero(t, f.updates)
	assert.Empty(t, f.history.Rows())

	current := uint64(2)
	dto, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{
		InvoiceID: "INV-9", Status: invoice.StatusOnHold, ExpectedVersion: &current,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), dto.Version)
}

// a change racing in between the caller's read and its lock
func TestChangeStatus_MovedBeforeLock(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	moved := lockerFunc(func(context.Context, string) (func(), error) {
		f.inv.Status, f.inv.Version = invoice.StatusOnHold, f.inv.Version+1
		return func() {}, nil
	})

	_, err := f.usecase(WithLocker(moved)).ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusUnderReview})
	require.ErrorIs(t, err, invoice.ErrConcurrencyConflict)
	assert.Zero(t, f.updates)
	assert.Equal(t, invoice.StatusOnHold, f.inv.Status)
	assert.Empty(t, f.history.Rows())
}

type lockerFunc func(ctx context.Context, key string) (func(), error)

func (l lockerFunc) Lock(ctx context.Context, key string) (func(), error) { return l(ctx, key) }

func TestChangeStatus_HistoryFailurePropagates(t *testing.T) {
	sentinel := errors.New("disk full")
	f := newMemFixture(invoice.StatusSubmitted)
	f.history.AppendFn = func(context.Context, *history.StatusHistory) error { return sentinel }

	_, err := f.usecase().ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusOnHold})
	require.ErrorIs(t, err, sentinel)
	assert.Empty(t, f.rec.transitions)
}

type failingLocker struct{ err error }

func (l failingLocker) Lock(context.Context, string) (func(), error) { return nil, l.err }

func TestChangeStatus_LockFailure(t *testing.T) {
	sentinel := errors.New("redis down")
	f := newMemFixture(invoice.StatusSubmitted)
	_, err := f.usecase(WithLocker(failingLocker{err: sentinel})).
		ChangeStatus(context.Background(), ChangeStatusInput{InvoiceID: "INV-9", Status: invoice.StatusOnHold})
	require.ErrorIs(t, err, sentinel)
	assert.Zero(t, f.txRuns)
}

func TestProcessWorkflowAction_UnknownAction(t *testing.T) {
	f := newMemFixture(invoice.StatusSubmitted)
	_, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", "teleport", "bot")
	require.ErrorIs(t, err, invoice.ErrUnknownAction)
	assert.Zero(t, f.txRuns)
}

func TestProcessWorkflowAction_EveryActionTarget(t *testing.T) {
	from := map[domainLifecycle.Action]invoice.Status{
		domainLifecycle.ActionSubmitForReview:  invoice.StatusSubmitted,
		domainLifecycle.ActionApprove:          invoice.StatusUnderReview,
		domainLifecycle.ActionReject:           invoice.StatusUnderReview,
		domainLifecycle.ActionStartWork:        invoice.StatusApproved,
		domainLifecycle.ActionSendToPmo:        invoice.StatusInProgress,
		domainLifecycle.ActionComplete:         invoice.StatusPmoReview,
		domainLifecycle.ActionReturnToProgress: invoice.StatusPmoReview,
		domainLifecycle.ActionCancel:           invoice.StatusApproved,
		domainLifecycle.ActionHold:             invoice.StatusInProgress,
	}
	for action, start := range from {
		t.Run(string(action), func(t *testing.T) {
			f := newMemFixture(start)
			dto, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", action, "bot")
			require.NoError(t, err)
			want, _ := domainLifecycle.ActionTarget(action)
			assert.Equal(t, want, dto.To)
			assert.Equal(t, history.OriginAutomated, f.history.Rows()[0].Origin)
		})
	}
}

func TestProcessWorkflowAction_Resume(t *testing.T) {
	f := newMemFixture(invoice.StatusOnHold)
	approved, submitted := invoice.StatusApproved, invoice.StatusSubmitted
	f.history.Appended = []history.StatusHistory{
		{InvoiceID: 9, FromStatus: &submitted, ToStatus: invoice.StatusOnHold},
		{InvoiceID: 9, FromStatus: &approved, ToStatus: invoice.StatusOnHold},
	}

	dto, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionResume, "bot")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOnHold, dto.From)
	assert.Equal(t, invoice.StatusApproved, dto.To)
}

func TestProcessWorkflowAction_ResumeNotOnHold(t *testing.T) {
	f := newMemFixture(invoice.StatusApproved)
	_, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionResume, "bot")
	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{"automated"}, f.rec.rejections)
}

func TestProcessWorkflowAction_ResumeWithoutHoldRow(t *testing.T) {
	f := newMemFixture(invoice.StatusOnHold)
	_, err := f.usecase().ProcessWorkflowAction(context.Background(), "INV-9", domainLifecycle.ActionResume, "bot")
	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, invoice.StatusOnHold, f.inv.Status)
}

func TestQueries(t *testing.T) {
	f := newMemFixture(invoice.StatusPmoReview)
	u := f.usecase()
	ctx := context.Background()

	tr, err := u.GetValidTransitions(ctx, "INV-9")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPmoReview, tr.Current)
	assert.Equal(t, domainLifecycle.GetValidTransitions(invoice.StatusPmoReview), tr.Valid)
	assert.NotContains(t, tr.Manual, invoice.StatusCompleted)
	assert.False(t, tr.Terminal)

	ok, err := u.CanChangeStatus(ctx, "INV-9", invoice.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = u.CanChangeStatus(ctx, "INV-9", invoice.StatusInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = u.GetValidTransitions(ctx, "nope")
	require.ErrorIs(t, err, invoice.ErrNotFound)
	_, err = u.CanChangeStatus(ctx, "nope", invoice.StatusOnHold)
	require.ErrorIs(t, err, invoice.ErrNotFound)
}
