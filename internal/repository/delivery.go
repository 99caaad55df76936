package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"veriflow/internal/model"
)

type DeliveryRepository interface {
	// Record appends one delivery audit row. Rows are never updated.
	Record(ctx context.Context, d *model.WebhookDelivery) error
	ListByVerification(ctx context.Context, verificationID string) ([]model.WebhookDelivery, error)
}

type deliveryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeliveryRepository(db *pgxpool.Pool, logger *zap.Logger) DeliveryRepository {
	return &deliveryRepository{db: db, logger: logger}
}

func (r *deliveryRepository) Record(ctx context.Context, d *model.WebhookDelivery) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO webhook_deliveries
			(id, verification_id, webhook_url, payload, response_status, response_body,
			 attempt_number, success, error_message, sent_at, retry_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, d.ID, d.VerificationID, d.WebhookURL, d.Payload, d.ResponseStatus, d.ResponseBody,
		d.AttemptNumber, d.Success, d.ErrorMessage, d.SentAt.UTC(), d.RetryAt)
	if err != nil {
		r.logger.Error("failed to record delivery", zap.Error(err), zap.String("verification_id", d.VerificationID))
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) ListByVerification(ctx context.Context, verificationID string) ([]model.WebhookDelivery, error) {
	const query = `
		SELECT id, verification_id, webhook_url, payload, response_status, response_body,
			attempt_number, success, error_message, sent_at, retry_at
		FROM webhook_deliveries
		WHERE verification_id = $1
		ORDER BY sent_at
	`
	rows, err := r.db.Query(ctx, query, verificationID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		if err := rows.Scan(&d.ID, &d.VerificationID, &d.WebhookURL, &d.Payload, &d.ResponseStatus, &d.ResponseBody,
			&d.AttemptNumber, &d.Success, &d.ErrorMessage, &d.SentAt, &d.RetryAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
