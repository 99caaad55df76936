package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veriflow/internal/auth"
	"veriflow/internal/config"
	"veriflow/internal/decision"
	"veriflow/internal/model"
	"veriflow/internal/ratelimit"
	"veriflow/internal/service"
	"veriflow/internal/webhook"
)

// --- fakes ---

type fakeService struct {
	summary *service.ProcessSummary
	err     error
}

func (f *fakeService) ProcessSession(ctx context.Context, sessionID string) (*service.ProcessSummary, error) {
	return f.summary, f.err
}

type fakeDispatcher struct {
	outcome webhook.Outcome
	err     error

	calledURL string
	calledID  string
}

func (f *fakeDispatcher) Deliver(ctx context.Context, webhookURL string, payload map[string]interface{}, verificationID string) (webhook.Outcome, error) {
	f.calledURL = webhookURL
	f.calledID = verificationID
	return f.outcome, f.err
}

type fakeSessionLookup struct {
	session *model.VerificationSession
}

func (f *fakeSessionLookup) GetBySessionID(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	return f.session, nil
}
func (f *fakeSessionLookup) MarkProcessing(ctx context.Context, sessionID string) error { return nil }
func (f *fakeSessionLookup) Finalize(ctx context.Context, sessionID string, status model.SessionStatus, results []byte, failureReason string, completedAt time.Time) error {
	return nil
}
func (f *fakeSessionLookup) MarkWebhookSent(ctx context.Context, sessionID string, at time.Time) error {
	return nil
}
func (f *fakeSessionLookup) ScheduleWebhookRetry(ctx context.Context, sessionID string, retryAt time.Time) error {
	return nil
}

type fakeDeliveryLog struct {
	deliveries []model.WebhookDelivery
}

func (f *fakeDeliveryLog) Record(ctx context.Context, d *model.WebhookDelivery) error { return nil }
func (f *fakeDeliveryLog) ListByVerification(ctx context.Context, verificationID string) ([]model.WebhookDelivery, error) {
	return f.deliveries, nil
}

type serverOptions struct {
	svc        service.VerificationService
	dispatcher WebhookDispatcher
	sessions   *fakeSessionLookup
	deliveries *fakeDeliveryLog
	clientCap  int
}

func newTestServer(t *testing.T, opts serverOptions) http.Handler {
	t.Helper()
	if opts.sessions == nil {
		opts.sessions = &fakeSessionLookup{}
	}
	if opts.deliveries == nil {
		opts.deliveries = &fakeDeliveryLog{}
	}
	if opts.clientCap == 0 {
		opts.clientCap = 100
	}
	clients := ratelimit.New(opts.clientCap, time.Minute, 0)
	creds := ratelimit.New(opts.clientCap, time.Minute, 0)
	t.Cleanup(func() {
		clients.Close()
		creds.Close()
	})
	cfg := &config.Config{}
	srv := New(cfg, opts.svc, opts.dispatcher, opts.sessions, opts.deliveries,
		auth.NewVerifier("test-secret", false), clients, creds, zap.NewNop())
	return srv.Handler()
}

func doRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- tests ---

func TestHealthz(t *testing.T) {
	h := newTestServer(t, serverOptions{})
	rec := doRequest(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestProcessCompleted(t *testing.T) {
	h := newTestServer(t, serverOptions{svc: &fakeService{summary: &service.ProcessSummary{
		Status:        model.StatusCompleted,
		DocumentCount: 1,
		FaceCount:     2,
		Results:       decision.Results{Confidence: 0.8},
	}}})

	rec := doRequest(h, http.MethodPost, "/verifications/sess-1/process", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["status"])

	reqs := body["requirements"].(map[string]interface{})
	assert.Equal(t, float64(1), reqs["requiredDocuments"])
	assert.Equal(t, float64(1), reqs["requiredFaceAssets"])

	counts := body["counts"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["documents"])
	assert.Equal(t, float64(2), counts["face"])

	assert.NotContains(t, body, "failureReason")
}

func TestProcessFailedIncludesReason(t *testing.T) {
	h := newTestServer(t, serverOptions{svc: &fakeService{summary: &service.ProcessSummary{
		Status:        model.StatusFailed,
		DocumentCount: 1,
		FaceCount:     1,
		FailureReason: decision.ReasonDocTooSmall,
	}}})

	rec := doRequest(h, http.MethodPost, "/verifications/sess-1/process", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, decision.ReasonDocTooSmall, body["failureReason"])
}

func TestProcessErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"missing session", service.ErrSessionNotFound, http.StatusNotFound},
		{"no assets", service.ErrNoAssets, http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, serverOptions{svc: &fakeService{err: tt.err}})
			rec := doRequest(h, http.MethodPost, "/verifications/sess-1/process", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, false, decodeBody(t, rec)["success"])
		})
	}
}

func TestProcessMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, serverOptions{svc: &fakeService{}})
	rec := doRequest(h, http.MethodGet, "/verifications/sess-1/process", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetSession(t *testing.T) {
	sessions := &fakeSessionLookup{session: &model.VerificationSession{
		SessionID: "sess-1",
		Status:    model.StatusPending,
	}}
	h := newTestServer(t, serverOptions{sessions: sessions})

	rec := doRequest(h, http.MethodGet, "/verifications/sess-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", decodeBody(t, rec)["sessionId"])

	sessions.session = nil
	rec = doRequest(h, http.MethodGet, "/verifications/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookSendValidation(t *testing.T) {
	h := newTestServer(t, serverOptions{dispatcher: &fakeDispatcher{}})

	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"missing url", `{"payload":{"k":"v"},"verificationId":"v-1"}`},
		{"missing payload", `{"webhookUrl":"https://x.example","verificationId":"v-1"}`},
		{"missing verification id", `{"webhookUrl":"https://x.example","payload":{"k":"v"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/webhooks/send", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestWebhookSendSuccess(t *testing.T) {
	status := 200
	dispatcher := &fakeDispatcher{outcome: webhook.Outcome{
		Success:        true,
		Attempts:       1,
		ResponseStatus: &status,
	}}
	h := newTestServer(t, serverOptions{dispatcher: dispatcher})

	rec := doRequest(h, http.MethodPost, "/webhooks/send",
		`{"webhookUrl":"https://client.example/hook","payload":{"k":"v"},"verificationId":"v-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["attempts"])
	assert.Equal(t, float64(200), body["responseStatus"])
	assert.Equal(t, "https://client.example/hook", dispatcher.calledURL)
	assert.Equal(t, "v-1", dispatcher.calledID)
}

func TestWebhookSendFailure(t *testing.T) {
	retryAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	status := 500
	dispatcher := &fakeDispatcher{outcome: webhook.Outcome{
		Success:        false,
		Attempts:       3,
		ResponseStatus: &status,
		ErrorMessage:   "endpoint returned status 500",
		RetryAt:        &retryAt,
	}}
	h := newTestServer(t, serverOptions{dispatcher: dispatcher})

	rec := doRequest(h, http.MethodPost, "/webhooks/send",
		`{"webhookUrl":"https://client.example/hook","payload":{"k":"v"},"verificationId":"v-1"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "3 attempt(s)")
	assert.Equal(t, retryAt.Format(time.RFC3339), body["retryAt"])
	assert.Equal(t, float64(500), body["responseStatus"])
}

func TestDeliveriesList(t *testing.T) {
	deliveries := &fakeDeliveryLog{deliveries: []model.WebhookDelivery{
		{ID: "d-1", VerificationID: "v-1", AttemptNumber: 3, Success: false},
	}}
	h := newTestServer(t, serverOptions{deliveries: deliveries})

	rec := doRequest(h, http.MethodGet, "/webhooks/deliveries/v-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "v-1", body["verificationId"])
	assert.Len(t, body["deliveries"], 1)
}

func TestRateLimitExceeded(t *testing.T) {
	sessions := &fakeSessionLookup{session: &model.VerificationSession{SessionID: "sess-1"}}
	h := newTestServer(t, serverOptions{sessions: sessions, clientCap: 2})

	for i := 0; i < 2; i++ {
		rec := doRequest(h, http.MethodGet, "/verifications/sess-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doRequest(h, http.MethodGet, "/verifications/sess-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestHealthzSkipsGuard(t *testing.T) {
	h := newTestServer(t, serverOptions{clientCap: 1})
	for i := 0; i < 3; i++ {
		rec := doRequest(h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestUnauthorizedWhenEnforced(t *testing.T) {
	clients := ratelimit.New(10, time.Minute, 0)
	creds := ratelimit.New(10, time.Minute, 0)
	defer clients.Close()
	defer creds.Close()

	srv := New(&config.Config{}, &fakeService{}, &fakeDispatcher{}, &fakeSessionLookup{}, &fakeDeliveryLog{},
		auth.NewVerifier("test-secret", true), clients, creds, zap.NewNop())
	rec := doRequest(srv.Handler(), http.MethodGet, "/verifications/sess-1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, serverOptions{})
	rec := doRequest(h, http.MethodOptions, "/verifications/sess-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
