// Package model contains the domain structs shared across packages.
package model

import (
	"encoding/json"
	"time"
)

// SessionStatus describes the verification session lifecycle. Transitions are
// forward-only: pending -> processing -> completed | failed.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VerificationSession represents a row in the verification_sessions table.
// Sessions are created by the onboarding surface; this subsystem only moves
// them through the state machine and attaches the decision results.
type VerificationSession struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"sessionId"`
	WebhookURL     string          `json:"webhookUrl,omitempty"`
	RedirectURL    string          `json:"redirectUrl,omitempty"`
	Options        json.RawMessage `json:"options,omitempty"`
	Status         SessionStatus   `json:"status"`
	Results        json.RawMessage `json:"results,omitempty"`
	FailureReason  *string         `json:"failureReason,omitempty"`
	WebhookSentAt  *time.Time      `json:"webhookSentAt,omitempty"`
	WebhookRetryAt *time.Time      `json:"webhookRetryAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}
