package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"veriflow/internal/queue"
	"veriflow/internal/webhook"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	dispatcher *webhook.Dispatcher
	logger     *zap.Logger
}

func NewProcessor(dispatcher *webhook.Dispatcher, logger *zap.Logger) *Processor {
	return &Processor{dispatcher: dispatcher, logger: logger}
}

// Handler registers the webhook delivery handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.DeliverWebhookTask, p.handleDeliver)
	return mux
}

func (p *Processor) handleDeliver(ctx context.Context, task *asynq.Task) error {
	var payload queue.DeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload.Payload, &body); err != nil {
		return fmt.Errorf("decode webhook body: %w", err)
	}

	outcome, err := p.dispatcher.Deliver(ctx, payload.WebhookURL, body, payload.VerificationID)
	if err != nil {
		return fmt.Errorf("deliver webhook for %s: %w", payload.VerificationID, err)
	}
	if outcome.Success {
		p.logger.Info("webhook delivered",
			zap.String("verification_id", payload.VerificationID),
			zap.Int("attempts", outcome.Attempts))
		return nil
	}
	// Exhausted retries are a recorded terminal state with a retry_at for
	// the external re-driver, not a task failure.
	p.logger.Warn("webhook delivery failed",
		zap.String("verification_id", payload.VerificationID),
		zap.Int("attempts", outcome.Attempts),
		zap.String("error", outcome.ErrorMessage))
	return nil
}
