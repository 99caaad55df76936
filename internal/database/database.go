package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables the pipeline reads and writes. Having the
// bootstrap in code keeps the stack self-contained so docker-compose can
// bring everything up without a separate migration step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS verification_sessions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	webhook_url TEXT NOT NULL DEFAULT '',
	redirect_url TEXT NOT NULL DEFAULT '',
	options JSONB,
	status TEXT NOT NULL DEFAULT 'pending',
	results JSONB,
	failure_reason TEXT,
	webhook_sent_at TIMESTAMPTZ,
	webhook_retry_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_verification_sessions_status ON verification_sessions(status);

CREATE TABLE IF NOT EXISTS document_assets (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES verification_sessions(session_id),
	document_type TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	file_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_document_assets_session ON document_assets(session_id);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	webhook_url TEXT NOT NULL,
	events TEXT[] NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	secret TEXT NOT NULL DEFAULT '',
	last_triggered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_url ON webhook_subscriptions(webhook_url);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	verification_id TEXT NOT NULL,
	webhook_url TEXT NOT NULL,
	payload JSONB,
	response_status INT,
	response_body TEXT,
	attempt_number INT NOT NULL,
	success BOOLEAN NOT NULL,
	error_message TEXT,
	sent_at TIMESTAMPTZ NOT NULL,
	retry_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_verification ON webhook_deliveries(verification_id);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
