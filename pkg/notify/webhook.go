package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookConfig holds webhook delivery configuration.
type WebhookConfig struct {
	Timeout time.Duration
	Retry   RetryConfig
	// Secret signs the body with HMAC-SHA256 when set.
	Secret          string
	SignatureHeader string
}

// WebhookEnvelope is the body POSTed to webhook endpoints.
type WebhookEnvelope struct {
	ID        string   `json:"id"`
	EventType string   `json:"event_type"`
	Timestamp string   `json:"timestamp"`
	Data      *Payload `json:"data"`
}

// WebhookDeliverer POSTs JSON payloads to destination URLs.
type WebhookDeliverer struct {
	config WebhookConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewWebhookDeliverer creates a webhook deliverer.
func NewWebhookDeliverer(config WebhookConfig, logger *zap.Logger) *WebhookDeliverer {
	if config.Timeout <= 0 {
		config.Timeout = constants.DefaultDeliveryTimeout
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = constants.DefaultSignatureHeader
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookDeliverer{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("webhook"),
		now:    time.Now,
	}
}

// Type returns the delivery type.
func (d *WebhookDeliverer) Type() string {
	return constants.DeliveryTypeWebhook
}

// Deliver POSTs p to the URL in dest, retrying transient failures.
func (d *WebhookDeliverer) Deliver(ctx context.Context, dest storage.Destination, p *Payload) error {
	if err := validateURL(string(dest)); err != nil {
		return &DeliveryError{Destination: dest, Err: err}
	}

	id := uuid.New().String()
	body, err := json.Marshal(&WebhookEnvelope{
		ID:        id,
		EventType: EventTypeTokenCreated,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      p,
	})
	if err != nil {
		return &DeliveryError{Destination: dest, Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Retry.budget(d.config.Timeout))
	defer cancel()

	var signature string
	if d.config.Secret != "" {
		signature = "sha256=" + computeSignature(body, d.config.Secret)
	}

	err = retry(ctx, d.config.Retry, dest, func(ctx context.Context) error {
		return d.post(ctx, string(dest), id, body, signature)
	})
	if err != nil {
		d.logger.Warn("webhook delivery failed",
			zap.String("notification_id", id),
			zap.String("destination", string(dest)),
			zap.Error(err),
		)
		return err
	}

	d.logger.Debug("webhook delivered",
		zap.String("notification_id", id),
		zap.String("destination", string(dest)),
	)
	return nil
}

func (d *WebhookDeliverer) post(ctx context.Context, target, id string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return permanent(0, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tokenwatch-webhook/1.0")
	req.Header.Set("X-Webhook-ID", id)
	req.Header.Set("X-Event-Type", EventTypeTokenCreated)
	if signature != "" {
		req.Header.Set(d.config.SignatureHeader, signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return transient(0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 10*1024))
	return classifyStatus(resp.StatusCode, respBody)
}

// classifyStatus maps an HTTP response to nil, a transient or a permanent failure.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return transient(status, fmt.Errorf("endpoint returned status %d: %s", status, strings.TrimSpace(string(body))))
	default:
		return permanent(status, fmt.Errorf("endpoint returned status %d: %s", status, strings.TrimSpace(string(body))))
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("destination URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid destination URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("destination URL must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("destination URL has no host")
	}
	return nil
}

// computeSignature computes the hex HMAC-SHA256 of payload.
func computeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value against payload.
// Receivers can use it to authenticate deliveries.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(expected, mac.Sum(nil))
}
