package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"invoice-engine/internal/adapter/repository/gormrepo"
	"invoice-engine/internal/domain/history"
	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/infrastructure/lock"
	"invoice-engine/internal/usecase/assembly"
)

var dbSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, gormrepo.AutoMigrate(db))
	return db
}

type stack struct {
	assembler *assembly.Assembler
	lifecycle *Usecase
}

func newStack(t *testing.T, opts ...Option) stack {
	db := openTestDB(t)
	tx := gormrepo.NewGormUoW(db)
	return stack{
		assembler: assembly.NewAssembler(tx),
		lifecycle: NewUsecase(gormrepo.NewInvoiceRepository(db), gormrepo.NewHistoryRepository(db), tx, opts...),
	}
}

func assembled(t *testing.T, s stack, number string) *invoice.Invoice {
	t.Helper()
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	total := 22.0
	inv, err := s.assembler.Assemble(context.Background(), assembly.Input{
		Result: invoice.OcrResult{
			IsProcessed:   true,
			InvoiceNumber: number,
			InvoiceDate:   &date,
			VendorName:    "ACME Supplies Ltd",
			TotalAmount:   &total,
			LineItems: []invoice.LineItem{
				{Description: "Widget", Quantity: 2, UnitPrice: 10, Amount: 20, ConfidenceScore: 1},
			},
		},
		CreatedBy: "uploader",
	})
	require.NoError(t, err)
	return inv
}

func TestIntegration_FullLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	inv := assembled(t, s, "INV-RT-1")

	stored, err := s.lifecycle.Get(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSubmitted, stored.Status)
	require.Len(t, stored.LineItems, 1)

	steps := []func() (*StatusChangeDTO, error){
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ProcessWorkflowAction(ctx, inv.InvoiceID, domainLifecycle.ActionSubmitForReview, "")
		},
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: invoice.StatusOnHold, ChangedBy: "bob", Reason: "missing PO"})
		},
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ProcessWorkflowAction(ctx, inv.InvoiceID, domainLifecycle.ActionResume, "bob")
		},
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: invoice.StatusApproved, ChangedBy: "carol"})
		},
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ProcessWorkflowAction(ctx, inv.InvoiceID, domainLifecycle.ActionStartWork, "ops")
		},
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ProcessWorkflowAction(ctx, inv.InvoiceID, domainLifecycle.ActionSendToPmo, "ops")
		},
		func() (*StatusChangeDTO, error) {
			return s.lifecycle.ProcessWorkflowAction(ctx, inv.InvoiceID, domainLifecycle.ActionComplete, "pmo")
		},
	}
	for i, step := range steps {
		_, err := step()
		require.NoError(t, err, "step %d", i)
	}

	final, err := s.lifecycle.Get(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCompleted, final.Status)
	assert.Equal(t, uint64(1+len(steps)), final.Version)
	require.NotNil(t, final.ProcessedBy)
	assert.Equal(t, "pmo", *final.ProcessedBy)

	trail, err := s.lifecycle.History(ctx, inv.InvoiceID)
	require.NoError(t, err)
	want := []invoice.Status{
		invoice.StatusSubmitted, invoice.StatusUnderReview, invoice.StatusOnHold, invoice.StatusUnderReview,
		invoice.StatusApproved, invoice.StatusInProgress, invoice.StatusPmoReview, invoice.StatusCompleted,
	}
	require.Len(t, trail, len(want))
	for i, h := range trail {
		assert.Equal(t, want[i], h.ToStatus, "row %d", i)
	}
	assert.Nil(t, trail[0].FromStatus)
	assert.Equal(t, history.OriginSystem, trail[0].Origin)
	assert.Equal(t, "uploader", trail[0].ChangedBy)
	assert.Equal(t, history.DefaultActor, trail[1].ChangedBy)
	assert.Equal(t, "missing PO", trail[2].Reason)
	assert.Equal(t, history.OriginManual, trail[2].Origin)
	assert.Equal(t, history.OriginAutomated, trail[7].Origin)

	_, err = s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: invoice.StatusInProgress})
	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
}

func TestIntegration_RejectedChangeLeavesNoTrace(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	inv := assembled(t, s, "INV-RT-2")

	_, err := s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: invoice.StatusCompleted})
	var terr *invoice.InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	stored, err := s.lifecycle.Get(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSubmitted, stored.Status)
	assert.Equal(t, uint64(1), stored.Version)
	trail, err := s.lifecycle.History(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestIntegration_ConcurrentTerminalChanges(t *testing.T) {
	s := newStack(t, WithLocker(lock.NewKeyedMutex()))
	ctx := context.Background()
	inv := assembled(t, s, "INV-RACE-1")

	const workers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		refused   atomic.Int32
		errs      = make(chan error, workers)
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		target := invoice.StatusRejected
		if i%2 == 1 {
			target = invoice.StatusCancelled
		}
		wg.Add(1)
		go func(target invoice.Status, who string) {
			defer wg.Done()
			<-start
			_, err := s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: target, ChangedBy: who})
			var terr *invoice.InvalidTransitionError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &terr), errors.Is(err, invoice.ErrConcurrencyConflict):
				refused.Add(1)
			default:
				errs <- err
			}
		}(target, fmt.Sprintf("user-%d", i))
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), refused.Load())

	stored, err := s.lifecycle.Get(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.True(t, domainLifecycle.IsTerminal(stored.Status))
	assert.Equal(t, uint64(2), stored.Version)

	trail, err := s.lifecycle.History(ctx, inv.InvoiceID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, stored.Status, trail[1].ToStatus)
}

// barrierLocker holds every caller until n of them asked for the lock, so
// all of them read the invoice before any change lands.
type barrierLocker struct {
	inner lock.Locker
	wg    *sync.WaitGroup
}

func newBarrierLocker(n int) barrierLocker {
	wg := &sync.WaitGroup{}
	wg.Add(n)
	return barrierLocker{inner: lock.NewKeyedMutex(), wg: wg}
}

func (b barrierLocker) Lock(ctx context.Context, key string) (func(), error) {
	b.wg.Done()
	b.wg.Wait()
	return b.inner.Lock(ctx, key)
}

func TestIntegration_ConcurrentNonTerminalChanges(t *testing.T) {
	s := newStack(t, WithLocker(newBarrierLocker(2)))
	ctx := context.Background()
	inv := assembled(t, s, "INV-RACE-2")

	// both edges are legal from Submitted and from each other's target
	targets := []invoice.Status{invoice.StatusUnderReview, invoice.StatusOnHold}
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
		errs      = make(chan error, len(targets))
	)
	for i, target := range targets {
		wg.Add(1)
		go func(target invoice.Status, who string) {
			defer wg.Done()
			_, err := s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: target, ChangedBy: who})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, invoice.ErrConcurrencyConflict):
				conflicts.Add(1)
			default:
				errs <- err
			}
		}(target, fmt.Sprintf("user-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), conflicts.Load())

	stored, err := s.lifecycle.Get(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Contains(t, targets, stored.Status)
	assert.Equal(t, uint64(2), stored.Version)

	trail, err := s.lifecycle.History(ctx, inv.InvoiceID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, stored.Status, trail[1].ToStatus)
}

func TestIntegration_ExpectedVersionFromEarlierRead(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	inv := assembled(t, s, "INV-RACE-3")

	seen, err := s.lifecycle.Get(ctx, inv.InvoiceID)
	require.NoError(t, err)
	v := seen.Version

	_, err = s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: invoice.StatusOnHold, ExpectedVersion: &v})
	require.NoError(t, err)
	_, err = s.lifecycle.ChangeStatus(ctx, ChangeStatusInput{InvoiceID: inv.InvoiceID, Status: invoice.StatusUnderReview, ExpectedVersion: &v})
	require.ErrorIs(t, err, invoice.ErrConcurrencyConflict)

	trail, err := s.lifecycle.History(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}
