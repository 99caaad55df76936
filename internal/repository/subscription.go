package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"veriflow/internal/model"
)

type SubscriptionRepository interface {
	// FindActiveByURL returns (nil, nil) when no active subscription targets
	// the URL; dispatch then runs in "direct" mode with the default secret.
	FindActiveByURL(ctx context.Context, webhookURL string) (*model.WebhookSubscription, error)
	TouchLastTriggered(ctx context.Context, id string, at time.Time) error
}

type subscriptionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSubscriptionRepository(db *pgxpool.Pool, logger *zap.Logger) SubscriptionRepository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) FindActiveByURL(ctx context.Context, webhookURL string) (*model.WebhookSubscription, error) {
	const query = `
		SELECT id, name, webhook_url, events, is_active, secret, last_triggered_at, created_at, updated_at
		FROM webhook_subscriptions
		WHERE webhook_url = $1 AND is_active
		ORDER BY created_at
		LIMIT 1
	`
	var sub model.WebhookSubscription
	err := r.db.QueryRow(ctx, query, webhookURL).Scan(
		&sub.ID, &sub.Name, &sub.WebhookURL, &sub.Events, &sub.IsActive,
		&sub.Secret, &sub.LastTriggeredAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to find subscription", zap.Error(err), zap.String("webhook_url", webhookURL))
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) TouchLastTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET last_triggered_at = $1, updated_at = $1
		WHERE id = $2
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch subscription: %w", err)
	}
	return nil
}
