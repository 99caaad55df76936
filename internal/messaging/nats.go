package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"veriflow/internal/model"
)

const subjectVerificationCompleted = "verification.completed"

// Publisher announces terminal decisions to internal consumers (analytics,
// reconciliation). Event delivery and webhook delivery are independent
// failure domains.
type Publisher interface {
	PublishVerificationCompleted(ctx context.Context, sessionID string, status model.SessionStatus, failureReason string) error
	Close()
}

type natsPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewPublisher(url string, logger *zap.Logger) (Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return &natsPublisher{conn: conn, logger: logger}, nil
}

type verificationCompletedMessage struct {
	VerificationID string `json:"verification_id"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

func (p *natsPublisher) PublishVerificationCompleted(ctx context.Context, sessionID string, status model.SessionStatus, failureReason string) error {
	msg := verificationCompletedMessage{
		VerificationID: sessionID,
		Status:         string(status),
		FailureReason:  failureReason,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal completed message: %w", err)
	}
	if err := p.conn.Publish(subjectVerificationCompleted, data); err != nil {
		return fmt.Errorf("publish completed message: %w", err)
	}
	p.logger.Info("verification completed event published",
		zap.String("verification_id", sessionID),
		zap.String("status", string(status)))
	return nil
}

func (p *natsPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.logger.Info("NATS connection closed")
	}
}
