package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"veriflow/internal/decision"
	"veriflow/internal/model"
	"veriflow/internal/queue"
	"veriflow/internal/repository"
	"veriflow/internal/vision"
	"veriflow/internal/webhook"
)

// Sentinel errors the API layer maps to client status codes. Neither mutates
// session state.
var (
	ErrSessionNotFound = errors.New("verification session not found")
	ErrNoAssets        = errors.New("no documents found for verification session")
)

// AssetURLResolver presigns a read URL for an asset object key. Satisfied by
// assetstore.Store; nil when no object storage is configured.
type AssetURLResolver interface {
	PresignAssetURL(ctx context.Context, objectKey string) (string, error)
}

// EventPublisher is the slice of messaging.Publisher the pipeline needs.
type EventPublisher interface {
	PublishVerificationCompleted(ctx context.Context, sessionID string, status model.SessionStatus, failureReason string) error
}

// ProcessSummary is what the finalization endpoint renders.
type ProcessSummary struct {
	Status        model.SessionStatus
	DocumentCount int
	FaceCount     int
	Results       decision.Results
	FailureReason string
}

type VerificationService interface {
	ProcessSession(ctx context.Context, sessionID string) (*ProcessSummary, error)
}

type verificationService struct {
	sessions   repository.SessionRepository
	assets     repository.AssetRepository
	classifier vision.Classifier
	urls       AssetURLResolver
	publisher  EventPublisher
	enqueuer   queue.Enqueuer
	logger     *zap.Logger
	now        func() time.Time
}

// NewVerificationService wires the pipeline. urls, publisher and enqueuer are
// optional; a nil value disables presigning, event publishing or queued
// webhook delivery respectively.
func NewVerificationService(sessions repository.SessionRepository, assets repository.AssetRepository, classifier vision.Classifier, urls AssetURLResolver, publisher EventPublisher, enqueuer queue.Enqueuer, logger *zap.Logger) VerificationService {
	return &verificationService{
		sessions:   sessions,
		assets:     assets,
		classifier: classifier,
		urls:       urls,
		publisher:  publisher,
		enqueuer:   enqueuer,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessSession runs the decision pipeline for one session: classify the
// uploaded assets, gate them, classify the primary ID document, aggregate,
// persist the terminal decision and hand the result off for delivery.
func (s *verificationService) ProcessSession(ctx context.Context, sessionID string) (*ProcessSummary, error) {
	session, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status.Terminal() {
		// Forward-only state machine: a finalized session is replayed from
		// its stored results, never re-processed.
		return summaryFromStored(session)
	}

	assets, err := s.assets.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}

	if err := s.sessions.MarkProcessing(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	breakdown := decision.ClassifyAssets(assets)
	s.persistCorrections(ctx, breakdown)

	report := decision.EvaluateRequirements(breakdown.DocCount, breakdown.FaceCount, breakdown.FirstDoc, breakdown.FirstFace)

	var verdict vision.Verdict
	if breakdown.FirstDoc != nil {
		verdict = s.classifier.Classify(ctx, s.resolveAssetURL(ctx, breakdown.FirstDoc), breakdown.FirstDoc.FileName)
	}

	outcome := decision.Aggregate(breakdown, report, verdict, s.now())

	resultsJSON, err := json.Marshal(outcome.Results)
	if err != nil {
		return nil, fmt.Errorf("serialize results: %w", err)
	}
	if err := s.sessions.Finalize(ctx, sessionID, outcome.Status, resultsJSON, outcome.FailureReason, s.now()); err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.announce(ctx, session, outcome, resultsJSON)

	return &ProcessSummary{
		Status:        outcome.Status,
		DocumentCount: breakdown.DocCount,
		FaceCount:     breakdown.FaceCount,
		Results:       outcome.Results,
		FailureReason: outcome.FailureReason,
	}, nil
}

// persistCorrections writes back the one-shot type corrections for assets the
// uploader left untyped. Failures are logged; the in-memory classification
// still drives this run.
func (s *verificationService) persistCorrections(ctx context.Context, breakdown decision.AssetBreakdown) {
	for _, ca := range breakdown.Assets {
		if !ca.Corrected {
			continue
		}
		if err := s.assets.UpdateDocumentType(ctx, ca.Asset.ID, ca.FinalType); err != nil {
			s.logger.Warn("failed to persist asset type correction",
				zap.Error(err), zap.String("asset_id", ca.Asset.ID))
		}
	}
}

// resolveAssetURL prefers the stored file URL and falls back to presigning
// the object key. An empty return routes the classifier to its heuristic.
func (s *verificationService) resolveAssetURL(ctx context.Context, asset *model.DocumentAsset) string {
	if asset.FileURL != "" {
		return asset.FileURL
	}
	if asset.ObjectKey == "" || s.urls == nil {
		return ""
	}
	u, err := s.urls.PresignAssetURL(ctx, asset.ObjectKey)
	if err != nil {
		s.logger.Warn("failed to presign asset url", zap.Error(err), zap.String("asset_id", asset.ID))
		return ""
	}
	return u
}

// announce publishes the completion event and queues webhook delivery. Both
// are decoupled from the decision: failures here never unwind the finalized
// session.
func (s *verificationService) announce(ctx context.Context, session *model.VerificationSession, outcome decision.Outcome, resultsJSON []byte) {
	if s.publisher != nil {
		if err := s.publisher.PublishVerificationCompleted(ctx, session.SessionID, outcome.Status, outcome.FailureReason); err != nil {
			s.logger.Error("failed to publish completion event", zap.Error(err),
				zap.String("session_id", session.SessionID))
		}
	}

	if s.enqueuer == nil || session.WebhookURL == "" {
		return
	}
	payload := map[string]interface{}{
		"event":     webhook.EventVerificationCompleted,
		"sessionId": session.SessionID,
		"status":    outcome.Status,
		"results":   json.RawMessage(resultsJSON),
	}
	if outcome.FailureReason != "" {
		payload["failureReason"] = outcome.FailureReason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to serialize webhook payload", zap.Error(err))
		return
	}
	err = s.enqueuer.EnqueueDeliver(ctx, queue.DeliverPayload{
		VerificationID: session.SessionID,
		WebhookURL:     session.WebhookURL,
		Payload:        body,
	})
	if err != nil {
		s.logger.Error("failed to enqueue webhook delivery", zap.Error(err),
			zap.String("session_id", session.SessionID))
	}
}

func summaryFromStored(session *model.VerificationSession) (*ProcessSummary, error) {
	summary := &ProcessSummary{Status: session.Status}
	if session.FailureReason != nil {
		summary.FailureReason = *session.FailureReason
	}
	if len(session.Results) > 0 {
		if err := json.Unmarshal(session.Results, &summary.Results); err != nil {
			return nil, fmt.Errorf("decode stored results: %w", err)
		}
		summary.DocumentCount = summary.Results.DocumentCount
		summary.FaceCount = summary.Results.FaceCount
	}
	return summary, nil
}
