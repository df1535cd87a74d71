// Package jobs carries automated workflow triggers over asynq: the API and
// the ingest flow enqueue them, cmd/worker consumes them.
package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"

	domainLifecycle "invoice-engine/internal/domain/lifecycle"
)

const (
	// QueueDefault is the queue every invoice task goes to.
	QueueDefault = "default"
	// TaskWorkflowAction applies a workflow action to one invoice.
	TaskWorkflowAction = "invoice:workflow_action"
)

var errInvalidPayload = errors.New("jobs: invalid workflow action payload")

type WorkflowActionPayload struct {
	InvoiceID string                 `json:"invoice_id"`
	Action    domainLifecycle.Action `json:"action"`
	UserID    string                 `json:"user_id,omitempty"`
}

func (p WorkflowActionPayload) validate() error {
	if strings.TrimSpace(p.InvoiceID) == "" || p.Action == "" {
		return errInvalidPayload
	}
	return nil
}

// NewWorkflowActionTask builds the asynq task for payload.
func NewWorkflowActionTask(p WorkflowActionPayload) (*asynq.Task, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowAction, data), nil
}
