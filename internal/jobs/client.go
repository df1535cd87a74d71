package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	domainLifecycle "invoice-engine/internal/domain/lifecycle"
)

// enqueuer is the part of *asynq.Client the Client uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue.
type Client struct {
	client   enqueuer
	maxRetry int
}

// NewClient constructs an asynq-backed client. maxRetry bounds redelivery of
// retryable failures such as concurrency conflicts.
func NewClient(redisOpts asynq.RedisConnOpt, maxRetry int) *Client {
	return &Client{client: asynq.NewClient(redisOpts), maxRetry: maxRetry}
}

// EnqueueWorkflowAction queues action for invoiceID on behalf of userID.
func (c *Client) EnqueueWorkflowAction(ctx context.Context, invoiceID string, action domainLifecycle.Action, userID string) error {
	task, err := NewWorkflowActionTask(WorkflowActionPayload{InvoiceID: invoiceID, Action: action, UserID: userID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault)}
	if c.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(c.maxRetry))
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
