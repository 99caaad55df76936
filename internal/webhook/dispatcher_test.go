package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veriflow/internal/model"
)

// --- fakes ---

type fakeSubs struct {
	sub      *model.WebhookSubscription
	touched  []string
	findErr  error
	touchErr error
}

func (f *fakeSubs) FindActiveByURL(ctx context.Context, webhookURL string) (*model.WebhookSubscription, error) {
	return f.sub, f.findErr
}

func (f *fakeSubs) TouchLastTriggered(ctx context.Context, id string, at time.Time) error {
	f.touched = append(f.touched, id)
	return f.touchErr
}

type fakeDeliveries struct {
	records []*model.WebhookDelivery
}

func (f *fakeDeliveries) Record(ctx context.Context, d *model.WebhookDelivery) error {
	f.records = append(f.records, d)
	return nil
}

func (f *fakeDeliveries) ListByVerification(ctx context.Context, verificationID string) ([]model.WebhookDelivery, error) {
	return nil, nil
}

type fakeSessions struct {
	webhookSent []string
	retries     map[string]time.Time
}

func (f *fakeSessions) GetBySessionID(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	return nil, nil
}
func (f *fakeSessions) MarkProcessing(ctx context.Context, sessionID string) error { return nil }
func (f *fakeSessions) Finalize(ctx context.Context, sessionID string, status model.SessionStatus, results []byte, failureReason string, completedAt time.Time) error {
	return nil
}
func (f *fakeSessions) MarkWebhookSent(ctx context.Context, sessionID string, at time.Time) error {
	f.webhookSent = append(f.webhookSent, sessionID)
	return nil
}
func (f *fakeSessions) ScheduleWebhookRetry(ctx context.Context, sessionID string, retryAt time.Time) error {
	if f.retries == nil {
		f.retries = map[string]time.Time{}
	}
	f.retries[sessionID] = retryAt
	return nil
}

func newTestDispatcher(subs *fakeSubs, deliveries *fakeDeliveries, sessions *fakeSessions, now time.Time) *Dispatcher {
	d := NewDispatcher([]byte("default-secret"), subs, deliveries, sessions, Options{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		RetryDelay:  5 * time.Minute,
	}, zap.NewNop())
	d.now = func() time.Time { return now }
	return d
}

// --- tests ---

func TestDeliverFirstAttemptSuccess(t *testing.T) {
	var headers http.Header
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := &fakeSubs{}
	deliveries := &fakeDeliveries{}
	sessions := &fakeSessions{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(subs, deliveries, sessions, now)

	outcome, err := d.Deliver(context.Background(), srv.URL, map[string]interface{}{
		"event":     EventVerificationCompleted,
		"sessionId": "sess-1",
	}, "sess-1")
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Nil(t, outcome.RetryAt)

	// Headers identify event, attempt, timestamp and signature.
	assert.Equal(t, EventVerificationCompleted, headers.Get("X-Webhook-Event"))
	assert.Equal(t, "1", headers.Get("X-Webhook-Attempt"))
	assert.Equal(t, now.Format(time.RFC3339), headers.Get("X-Webhook-Timestamp"))
	assert.Equal(t, outcome.Signature, headers.Get("X-Webhook-Signature"))

	// The body carries the payload plus the metadata envelope with the
	// signature repeated.
	meta, ok := body["metadata"].(map[string]interface{})
	require.True(t, ok, "metadata envelope missing: %v", body)
	assert.Equal(t, DirectWebhookID, meta["webhookId"])
	assert.Equal(t, float64(1), meta["attemptNumber"])
	assert.Equal(t, outcome.Signature, meta["signature"])
	assert.Equal(t, "sess-1", body["sessionId"])

	// One audit record, session marked sent, no subscription to touch.
	require.Len(t, deliveries.records, 1)
	assert.True(t, deliveries.records[0].Success)
	assert.Equal(t, 1, deliveries.records[0].AttemptNumber)
	assert.Equal(t, []string{"sess-1"}, sessions.webhookSent)
	assert.Empty(t, subs.touched)
}

func TestDeliverPermanentFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	deliveries := &fakeDeliveries{}
	sessions := &fakeSessions{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(&fakeSubs{}, deliveries, sessions, now)

	outcome, err := d.Deliver(context.Background(), srv.URL, map[string]interface{}{"k": "v"}, "sess-2")
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits), "exactly three HTTP attempts")
	require.NotNil(t, outcome.ResponseStatus)
	assert.Equal(t, http.StatusInternalServerError, *outcome.ResponseStatus)
	require.NotNil(t, outcome.RetryAt)
	assert.Equal(t, now.Add(5*time.Minute), *outcome.RetryAt)

	// Exactly one audit record summarizing the final attempt.
	require.Len(t, deliveries.records, 1)
	rec := deliveries.records[0]
	assert.Equal(t, 3, rec.AttemptNumber)
	assert.False(t, rec.Success)
	require.NotNil(t, rec.RetryAt)
	assert.Equal(t, now.Add(5*time.Minute), *rec.RetryAt)

	// Retry scheduled on the session, nothing marked sent.
	assert.Equal(t, now.Add(5*time.Minute), sessions.retries["sess-2"])
	assert.Empty(t, sessions.webhookSent)
}

func TestDeliverUnreachableEndpoint(t *testing.T) {
	deliveries := &fakeDeliveries{}
	d := newTestDispatcher(&fakeSubs{}, deliveries, &fakeSessions{}, time.Now())

	outcome, err := d.Deliver(context.Background(), "http://127.0.0.1:1/webhook", map[string]interface{}{"k": "v"}, "sess-3")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Nil(t, outcome.ResponseStatus)
	assert.NotEmpty(t, outcome.ErrorMessage)
	require.Len(t, deliveries.records, 1)
}

func TestDeliverRecoversOnRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	deliveries := &fakeDeliveries{}
	sessions := &fakeSessions{}
	d := newTestDispatcher(&fakeSubs{}, deliveries, sessions, time.Now())

	outcome, err := d.Deliver(context.Background(), srv.URL, map[string]interface{}{"k": "v"}, "sess-4")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Empty(t, outcome.ErrorMessage)
	require.Len(t, deliveries.records, 1)
	assert.True(t, deliveries.records[0].Success)
}

func TestDeliverUsesSubscriptionSecret(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Webhook-Signature")
	}))
	defer srv.Close()

	subs := &fakeSubs{sub: &model.WebhookSubscription{ID: "sub-1", Secret: "sub-secret", IsActive: true}}
	d := newTestDispatcher(subs, &fakeDeliveries{}, &fakeSessions{}, time.Now())

	payload := map[string]interface{}{"sessionId": "sess-5"}
	outcome, err := d.Deliver(context.Background(), srv.URL, payload, "sess-5")
	require.NoError(t, err)
	require.True(t, outcome.Success)

	canonical, _ := json.Marshal(payload)
	assert.Equal(t, NewSigner([]byte("sub-secret")).Sign(canonical), signature,
		"signature must come from the subscription secret")
	assert.Equal(t, []string{"sub-1"}, subs.touched)
}

func TestDeliverSignatureReproducible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	d := newTestDispatcher(&fakeSubs{}, &fakeDeliveries{}, &fakeSessions{}, time.Now())
	payload := map[string]interface{}{"b": "2", "a": "1"}

	first, err := d.Deliver(context.Background(), srv.URL, payload, "sess-6")
	require.NoError(t, err)
	second, err := d.Deliver(context.Background(), srv.URL, payload, "sess-6")
	require.NoError(t, err)
	assert.Equal(t, first.Signature, second.Signature)
}
