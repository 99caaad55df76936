// Package api exposes the HTTP surface: session finalization, webhook
// send/test and delivery-log visibility.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"veriflow/internal/auth"
	"veriflow/internal/config"
	"veriflow/internal/ratelimit"
	"veriflow/internal/repository"
	"veriflow/internal/service"
	"veriflow/internal/webhook"
)

// WebhookDispatcher is the inline-delivery contract the send endpoint uses.
type WebhookDispatcher interface {
	Deliver(ctx context.Context, webhookURL string, payload map[string]interface{}, verificationID string) (webhook.Outcome, error)
}

// Server exposes HTTP endpoints for the decision pipeline and webhook
// delivery subsystem.
type Server struct {
	cfg        *config.Config
	service    service.VerificationService
	dispatcher WebhookDispatcher
	sessions   repository.SessionRepository
	deliveries repository.DeliveryRepository
	verifier   *auth.Verifier
	clients    *ratelimit.Limiter
	creds      *ratelimit.Limiter
	logger     *zap.Logger
	server     *http.Server
	once       sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, svc service.VerificationService, dispatcher WebhookDispatcher, sessions repository.SessionRepository, deliveries repository.DeliveryRepository, verifier *auth.Verifier, clients, creds *ratelimit.Limiter, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		service:    svc,
		dispatcher: dispatcher,
		sessions:   sessions,
		deliveries: deliveries,
		verifier:   verifier,
		clients:    clients,
		creds:      creds,
		logger:     logger,
	}
}

// Handler builds the route table with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/verifications/", s.handleVerificationRoute)
	mux.HandleFunc("/webhooks/send", s.handleWebhookSend)
	mux.HandleFunc("/webhooks/deliveries/", s.handleDeliveries)
	return corsMiddleware(s.loggingMiddleware(s.guardMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.ServerAddress(),
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.ServerAddress()))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerificationRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/verifications/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	sessionID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleGetSession(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "process":
		s.handleProcess(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

type requirementsView struct {
	RequiredDocuments  int `json:"requiredDocuments"`
	RequiredFaceAssets int `json:"requiredFaceAssets"`
}

type countsView struct {
	Documents int `json:"documents"`
	Face      int `json:"face"`
}

type processResponse struct {
	Success       bool             `json:"success"`
	Status        string           `json:"status"`
	Requirements  requirementsView `json:"requirements"`
	Counts        countsView       `json:"counts"`
	Results       interface{}      `json:"results"`
	FailureReason string           `json:"failureReason,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.service.ProcessSession(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "Verification session not found")
		case errors.Is(err, service.ErrNoAssets):
			respondError(w, http.StatusBadRequest, "No documents found for this session")
		default:
			s.logger.Error("process session failed", zap.Error(err), zap.String("session_id", sessionID))
			respondError(w, http.StatusInternalServerError, "Failed to process verification session")
		}
		return
	}
	respondJSON(w, http.StatusOK, processResponse{
		Success: true,
		Status:  string(summary.Status),
		Requirements: requirementsView{
			RequiredDocuments:  1,
			RequiredFaceAssets: 1,
		},
		Counts: countsView{
			Documents: summary.DocumentCount,
			Face:      summary.FaceCount,
		},
		Results:       summary.Results,
		FailureReason: summary.FailureReason,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := s.sessions.GetBySessionID(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load verification session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Verification session not found")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

type webhookSendRequest struct {
	WebhookURL     string                 `json:"webhookUrl"`
	Payload        map[string]interface{} `json:"payload"`
	VerificationID string                 `json:"verificationId"`
}

func (s *Server) handleWebhookSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req webhookSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.WebhookURL == "" || req.Payload == nil || req.VerificationID == "" {
		respondError(w, http.StatusBadRequest, "webhookUrl, payload and verificationId are required")
		return
	}

	outcome, err := s.dispatcher.Deliver(r.Context(), req.WebhookURL, req.Payload, req.VerificationID)
	if err != nil {
		s.logger.Error("webhook dispatch failed", zap.Error(err), zap.String("verification_id", req.VerificationID))
		respondError(w, http.StatusInternalServerError, "Failed to dispatch webhook")
		return
	}

	if outcome.Success {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success":        true,
			"message":        fmt.Sprintf("Webhook delivered after %d attempt(s)", outcome.Attempts),
			"responseStatus": outcome.ResponseStatus,
			"attempts":       outcome.Attempts,
		})
		return
	}
	resp := map[string]interface{}{
		"success": false,
		"message": fmt.Sprintf("Webhook delivery failed after %d attempt(s): %s", outcome.Attempts, outcome.ErrorMessage),
		"retryAt": outcome.RetryAt,
	}
	if outcome.ResponseStatus != nil {
		resp["responseStatus"] = outcome.ResponseStatus
	}
	respondJSON(w, http.StatusBadGateway, resp)
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	verificationID := strings.TrimPrefix(r.URL.Path, "/webhooks/deliveries/")
	if verificationID == "" {
		http.NotFound(w, r)
		return
	}
	deliveries, err := s.deliveries.ListByVerification(r.Context(), verificationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load delivery log")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"verificationId": verificationID,
		"deliveries":     deliveries,
	})
}

// guardMiddleware applies credential checking and both rate limiters to
// everything except the health endpoint.
func (s *Server) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := s.verifier.FromRequest(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid or missing API credentials")
			return
		}

		clientKey := remoteAddrKey(r)
		if principal != nil {
			clientKey = principal.ClientID
		}
		if ok, retryAfter := s.clients.Allow(clientKey); !ok {
			s.rejectRateLimited(w, retryAfter)
			return
		}
		if principal != nil && principal.CredentialID != "" {
			if ok, retryAfter := s.creds.Allow(principal.CredentialID); !ok {
				s.rejectRateLimited(w, retryAfter)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds()) + 1
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"success":    false,
		"message":    "Rate limit exceeded",
		"retryAfter": seconds,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteAddrKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
