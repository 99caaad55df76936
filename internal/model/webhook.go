package model

import (
	"encoding/json"
	"time"
)

// WebhookSubscription is a caller-registered delivery target. Managed by the
// dashboard surface; this subsystem reads it and touches last_triggered_at
// after a successful delivery.
type WebhookSubscription struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	WebhookURL      string     `json:"webhookUrl"`
	Events          []string   `json:"events"`
	IsActive        bool       `json:"isActive"`
	Secret          string     `json:"secret,omitempty"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// WebhookDelivery is the append-only audit record summarizing one dispatch
// call (the final attempt of the batch). Never mutated after write.
type WebhookDelivery struct {
	ID             string          `json:"id"`
	VerificationID string          `json:"verificationId"`
	WebhookURL     string          `json:"webhookUrl"`
	Payload        json.RawMessage `json:"payload"`
	ResponseStatus *int            `json:"responseStatus,omitempty"`
	ResponseBody   *string         `json:"responseBody,omitempty"`
	AttemptNumber  int             `json:"attemptNumber"`
	Success        bool            `json:"success"`
	ErrorMessage   *string         `json:"errorMessage,omitempty"`
	SentAt         time.Time       `json:"sentAt"`
	RetryAt        *time.Time      `json:"retryAt,omitempty"`
}
