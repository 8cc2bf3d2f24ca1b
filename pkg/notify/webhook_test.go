package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestWebhookDeliverer_Success(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewWebhookDeliverer(WebhookConfig{Secret: "s3cret", Retry: fastRetry(0)}, zap.NewNop())
	assert.Equal(t, "webhook", d.Type())

	p := NewPayload(sampleEvent())
	require.NoError(t, d.Deliver(context.Background(), storage.Destination(server.URL), p))

	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "token_created", gotHeader.Get("X-Event-Type"))
	assert.NotEmpty(t, gotHeader.Get("X-Webhook-ID"))
	assert.True(t, VerifySignature(gotBody, gotHeader.Get("X-Signature-256"), "s3cret"))
	assert.False(t, VerifySignature(gotBody, gotHeader.Get("X-Signature-256"), "wrong"))

	var envelope WebhookEnvelope
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, gotHeader.Get("X-Webhook-ID"), envelope.ID)
	assert.Equal(t, "token_created", envelope.EventType)
	require.NotNil(t, envelope.Data)
	assert.Equal(t, p.Title, envelope.Data.Title)
	assert.Equal(t, p.TotalSupply, envelope.Data.TotalSupply)
}

func TestWebhookDeliverer_NoSecretNoSignature(t *testing.T) {
	var signature atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get("X-Signature-256"))
	}))
	defer server.Close()

	d := NewWebhookDeliverer(WebhookConfig{}, nil)
	require.NoError(t, d.Deliver(context.Background(), storage.Destination(server.URL), NewPayload(sampleEvent())))
	assert.Equal(t, "", signature.Load())
}

func TestWebhookDeliverer_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDeliverer(WebhookConfig{Retry: fastRetry(2)}, zap.NewNop())
	require.NoError(t, d.Deliver(context.Background(), storage.Destination(server.URL), NewPayload(sampleEvent())))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDeliverer_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewWebhookDeliverer(WebhookConfig{Retry: fastRetry(2)}, zap.NewNop())
	err := d.Deliver(context.Background(), storage.Destination(server.URL), NewPayload(sampleEvent()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelivery)

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Attempts)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDeliverer_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := NewWebhookDeliverer(WebhookConfig{Retry: fastRetry(5)}, zap.NewNop())
	err := d.Deliver(context.Background(), storage.Destination(server.URL), NewPayload(sampleEvent()))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookDeliverer_InvalidDestination(t *testing.T) {
	d := NewWebhookDeliverer(WebhookConfig{}, zap.NewNop())

	for _, dest := range []storage.Destination{"", "123456789", "ftp://example.com/x", "http://"} {
		err := d.Deliver(context.Background(), dest, NewPayload(sampleEvent()))
		assert.ErrorIs(t, err, ErrDelivery, "destination %q", dest)
	}
}

func TestWebhookDeliverer_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := WebhookConfig{Retry: RetryConfig{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}}
	d := NewWebhookDeliverer(cfg, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- d.Deliver(ctx, storage.Destination(server.URL), NewPayload(sampleEvent()))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Deliver did not return after cancellation")
	}
}

func TestRetryConfigDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.delay(3))
	assert.Equal(t, time.Second, cfg.delay(10))
}

func TestRetryConfigBudget(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 3300*time.Millisecond, cfg.budget(time.Second))

	assert.Equal(t, time.Second, RetryConfig{}.budget(time.Second))
}

func TestComputeSignature(t *testing.T) {
	sig := computeSignature([]byte(`{"a":1}`), "key")
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature([]byte(`{"a":1}`), "sha256="+sig, "key"))
	assert.True(t, VerifySignature([]byte(`{"a":1}`), sig, "key"))
	assert.False(t, VerifySignature([]byte(`{"a":2}`), sig, "key"))
	assert.False(t, VerifySignature([]byte(`{"a":1}`), "not-hex", "key"))
}
