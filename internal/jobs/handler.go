package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/observability"
	"invoice-engine/internal/usecase/lifecycle"
)

// ActionProcessor is the slice of the lifecycle usecase the job needs.
type ActionProcessor interface {
	ProcessWorkflowAction(ctx context.Context, invoiceID string, action domainLifecycle.Action, userID string) (*lifecycle.StatusChangeDTO, error)
}

// WorkflowActionJob handles TaskWorkflowAction.
type WorkflowActionJob struct {
	processor ActionProcessor
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewWorkflowActionJob(p ActionProcessor, logger *slog.Logger, metrics *observability.Metrics) *WorkflowActionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowActionJob{processor: p, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract. Failures that a retry cannot
// fix are wrapped with asynq.SkipRetry; concurrency conflicts are retried.
func (j *WorkflowActionJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.processor == nil {
		return errors.New("workflow action job: handler not configured")
	}
	tracker := j.metrics.Track(TaskWorkflowAction)
	defer func() { err = tracker.End(err) }()

	var p WorkflowActionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := j.logger.With(
		slog.String("invoice_id", p.InvoiceID),
		slog.String("action", string(p.Action)),
	)
	dto, err := j.processor.ProcessWorkflowAction(ctx, p.InvoiceID, p.Action, p.UserID)
	if err != nil {
		if permanent(err) {
			logger.Warn("workflow action dropped", slog.Any("error", err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		logger.Error("workflow action failed", slog.Any("error", err))
		return err
	}
	logger.Info("workflow action applied",
		slog.String("from", dto.From.String()),
		slog.String("to", dto.To.String()))
	return nil
}

func permanent(err error) bool {
	var terr *invoice.InvalidTransitionError
	return errors.Is(err, invoice.ErrNotFound) ||
		errors.Is(err, invoice.ErrUnknownAction) ||
		errors.As(err, &terr)
}
