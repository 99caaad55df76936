package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"veriflow/internal/model"
	"veriflow/internal/repository"
)

// EventVerificationCompleted identifies the decision event on delivered
// requests and published messages.
const EventVerificationCompleted = "verification.completed"

// DirectWebhookID marks deliveries to URLs with no registered subscription.
const DirectWebhookID = "direct"

// Outcome summarizes one dispatch call (up to maxAttempts HTTP attempts).
type Outcome struct {
	Success        bool
	Attempts       int
	ResponseStatus *int
	ResponseBody   string
	ErrorMessage   string
	Signature      string
	RetryAt        *time.Time
}

// Options tune retry behavior. Zero values fall back to the production
// defaults (3 attempts, 1s backoff base, 5m retry delay, 15s per request).
type Options struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// Dispatcher signs and posts payloads with bounded exponential backoff. The
// subscription, delivery and session repositories may each be nil for
// standalone use (the CLI sends without a database); persistence steps are
// then skipped.
type Dispatcher struct {
	client        *http.Client
	defaultSigner *Signer
	subs          repository.SubscriptionRepository
	deliveries    repository.DeliveryRepository
	sessions      repository.SessionRepository
	opts          Options
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcher(defaultSecret []byte, subs repository.SubscriptionRepository, deliveries repository.DeliveryRepository, sessions repository.SessionRepository, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &Dispatcher{
		client:        &http.Client{Timeout: opts.RequestTimeout},
		defaultSigner: NewSigner(defaultSecret),
		subs:          subs,
		deliveries:    deliveries,
		sessions:      sessions,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
	}
}

// Deliver posts the payload to webhookURL, retrying with exponential backoff
// between failed attempts. Exactly one delivery record is written per call
// summarizing the final attempt. A non-nil error means delivery could not be
// attempted at all (bad payload); delivery failure itself is reported through
// the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, webhookURL string, payload map[string]interface{}, verificationID string) (Outcome, error) {
	// encoding/json sorts map keys, so this serialization is stable and the
	// signature is reproducible from the same payload and secret.
	canonical, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("serialize payload: %w", err)
	}

	signer := d.defaultSigner
	webhookID := DirectWebhookID
	var sub *model.WebhookSubscription
	if d.subs != nil {
		sub, err = d.subs.FindActiveByURL(ctx, webhookURL)
		if err != nil {
			d.logger.Warn("subscription lookup failed, using default secret", zap.Error(err))
		}
		if sub != nil {
			webhookID = sub.ID
			if sub.Secret != "" {
				signer = NewSigner([]byte(sub.Secret))
			}
		}
	}

	outcome := Outcome{Signature: signer.Sign(canonical)}

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		status, body, attemptErr := d.attempt(ctx, webhookURL, payload, outcome.Signature, webhookID, attempt)
		if status != 0 {
			s := status
			outcome.ResponseStatus = &s
			outcome.ResponseBody = body
		}
		if attemptErr == nil {
			outcome.Success = true
			outcome.ErrorMessage = ""
			break
		}
		outcome.ErrorMessage = attemptErr.Error()
		d.logger.Warn("webhook attempt failed",
			zap.String("verification_id", verificationID),
			zap.Int("attempt", attempt),
			zap.Error(attemptErr))

		if attempt < d.opts.MaxAttempts {
			if err := d.wait(ctx, d.opts.BackoffBase<<uint(attempt-1)); err != nil {
				outcome.ErrorMessage = err.Error()
				break
			}
		}
	}

	if !outcome.Success {
		retryAt := d.now().Add(d.opts.RetryDelay).UTC()
		outcome.RetryAt = &retryAt
	}

	d.record(ctx, webhookURL, canonical, verificationID, outcome)
	d.updateMetadata(ctx, sub, verificationID, outcome)
	return outcome, nil
}

// attempt performs one POST. A nil error means the endpoint answered 2xx.
func (d *Dispatcher) attempt(ctx context.Context, webhookURL string, payload map[string]interface{}, signature, webhookID string, attempt int) (int, string, error) {
	sentAt := d.now().UTC()

	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["metadata"] = map[string]interface{}{
		"sentAt":        sentAt.Format(time.RFC3339),
		"attemptNumber": attempt,
		"webhookId":     webhookID,
		"signature":     signature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", EventVerificationCompleted)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", attempt))
	req.Header.Set("X-Webhook-Timestamp", sentAt.Format(time.RFC3339))
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, string(respBody), fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(respBody), nil
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) record(ctx context.Context, webhookURL string, payload []byte, verificationID string, outcome Outcome) {
	if d.deliveries == nil {
		return
	}
	delivery := &model.WebhookDelivery{
		ID:             uuid.NewString(),
		VerificationID: verificationID,
		WebhookURL:     webhookURL,
		Payload:        payload,
		ResponseStatus: outcome.ResponseStatus,
		AttemptNumber:  outcome.Attempts,
		Success:        outcome.Success,
		SentAt:         d.now().UTC(),
		RetryAt:        outcome.RetryAt,
	}
	if outcome.ResponseBody != "" {
		body := outcome.ResponseBody
		delivery.ResponseBody = &body
	}
	if outcome.ErrorMessage != "" {
		msg := outcome.ErrorMessage
		delivery.ErrorMessage = &msg
	}
	if err := d.deliveries.Record(ctx, delivery); err != nil {
		// The delivery already happened; a missing audit row is recoverable
		// by reconciliation, so log and move on.
		d.logger.Error("failed to record webhook delivery", zap.Error(err),
			zap.String("verification_id", verificationID))
	}
}

func (d *Dispatcher) updateMetadata(ctx context.Context, sub *model.WebhookSubscription, verificationID string, outcome Outcome) {
	now := d.now().UTC()
	if outcome.Success {
		if sub != nil && d.subs != nil {
			if err := d.subs.TouchLastTriggered(ctx, sub.ID, now); err != nil {
				d.logger.Error("failed to update subscription", zap.Error(err))
			}
		}
		if d.sessions != nil {
			if err := d.sessions.MarkWebhookSent(ctx, verificationID, now); err != nil {
				d.logger.Error("failed to mark webhook sent", zap.Error(err))
			}
		}
		return
	}
	if d.sessions != nil && outcome.RetryAt != nil {
		if err := d.sessions.ScheduleWebhookRetry(ctx, verificationID, *outcome.RetryAt); err != nil {
			d.logger.Error("failed to schedule webhook retry", zap.Error(err))
		}
	}
}
