// Package repository wraps all SQL used throughout the API and worker.
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

// ErrAlreadyFinalized is returned when a state change targets a session that
// has already reached a terminal status. Transitions are forward-only.
var ErrAlreadyFinalized = errors.New("session already finalized")

type SessionRepository interface {
	GetBySessionID(ctx context.Context, sessionID string) (*model.VerificationSession, error)
	MarkProcessing(ctx context.Context, sessionID string) error
	Finalize(ctx context.Context, sessionID string, status model.SessionStatus, results []byte, failureReason string, completedAt time.Time) error
	MarkWebhookSent(ctx context.Context, sessionID string, at time.Time) error
	ScheduleWebhookRetry(ctx context.Context, sessionID string, retryAt time.Time) error
}

type sessionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSessionRepository(db *pgxpool.Pool, logger *zap.Logger) SessionRepository {
	return &sessionRepository{db: db, logger: logger}
}

// GetBySessionID returns (nil, nil) when the session does not exist.
func (r *sessionRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	const query = `
		SELECT id, session_id, webhook_url, redirect_url, options, status, results,
			failure_reason, webhook_sent_at, webhook_retry_at, created_at, updated_at, completed_at
		FROM verification_sessions
		WHERE session_id = $1
	`
	var s model.VerificationSession
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&s.ID, &s.SessionID, &s.WebhookURL, &s.RedirectURL, &s.Options, &s.Status, &s.Results,
		&s.FailureReason, &s.WebhookSentAt, &s.WebhookRetryAt, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get session", zap.Error(err), zap.String("session_id", sessionID))
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &s, nil
}

// MarkProcessing moves the session into processing. Re-marking a session that
// is already processing is a no-op; marking a finalized one fails.
func (r *sessionRepository) MarkProcessing(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE verification_sessions
		SET status = $1, updated_at = $2
		WHERE session_id = $3 AND status IN ($4, $1)
	`, model.StatusProcessing, time.Now().UTC(), sessionID, model.StatusPending)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// Finalize writes the terminal status, results payload and completed_at in a
// single statement so the terminal transition is atomic. Guarded so a
// finalized session is never finalized again.
func (r *sessionRepository) Finalize(ctx context.Context, sessionID string, status model.SessionStatus, results []byte, failureReason string, completedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize with non-terminal status %q", status)
	}
	var reason *string
	if failureReason != "" {
		reason = &failureReason
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE verification_sessions
		SET status = $1, results = $2, failure_reason = $3, completed_at = $4, updated_at = $4
		WHERE session_id = $5 AND status NOT IN ($6, $7)
	`, status, results, reason, completedAt.UTC(), sessionID, model.StatusCompleted, model.StatusFailed)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	r.logger.Info("session finalized",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)))
	return nil
}

func (r *sessionRepository) MarkWebhookSent(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE verification_sessions
		SET webhook_sent_at = $1, webhook_retry_at = NULL, updated_at = $1
		WHERE session_id = $2
	`, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("mark webhook sent: %w", err)
	}
	return nil
}

func (r *sessionRepository) ScheduleWebhookRetry(ctx context.Context, sessionID string, retryAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE verification_sessions
		SET webhook_retry_at = $1, updated_at = $2
		WHERE session_id = $3
	`, retryAt.UTC(), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("schedule webhook retry: %w", err)
	}
	return nil
}
