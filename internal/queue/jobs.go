package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// DeliverWebhookTask is scheduled after a session reaches a terminal
	// decision, so delivery backoff never blocks the triggering request.
	DeliverWebhookTask = "webhook:deliver"
)

// DeliverPayload tells the worker which decision to deliver where.
type DeliverPayload struct {
	VerificationID string          `json:"verification_id"`
	WebhookURL     string          `json:"webhook_url"`
	Payload        json.RawMessage `json:"payload"`
}

// Enqueuer is the narrow producer interface the verification service uses.
type Enqueuer interface {
	EnqueueDeliver(ctx context.Context, payload DeliverPayload) error
}

// Client wraps the asynq producer.
type Client struct {
	inner *asynq.Client
}

func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueDeliver enqueues a webhook delivery job. The dispatcher already
// retries within one run and records a retry_at for the external re-driver,
// so asynq itself does not retry the task.
func (c *Client) EnqueueDeliver(ctx context.Context, payload DeliverPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(DeliverWebhookTask, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue deliver task: %w", err)
	}
	return nil
}
