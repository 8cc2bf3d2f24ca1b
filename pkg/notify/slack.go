package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SlackConfig holds Slack incoming-webhook delivery configuration.
type SlackConfig struct {
	Timeout            time.Duration
	Retry              RetryConfig
	Username           string
	IconEmoji          string
	RateLimitPerMinute int
}

// SlackMessage represents a Slack incoming webhook message.
type SlackMessage struct {
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment.
type SlackAttachment struct {
	Color    string       `json:"color,omitempty"`
	Title    string       `json:"title,omitempty"`
	Text     string       `json:"text,omitempty"`
	Fields   []SlackField `json:"fields,omitempty"`
	ThumbURL string       `json:"thumb_url,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	Ts       int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackDeliverer posts payloads to Slack incoming-webhook URLs. Posts share
// one rate limiter across all destinations.
type SlackDeliverer struct {
	config  SlackConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSlackDeliverer creates a Slack deliverer.
func NewSlackDeliverer(config SlackConfig, logger *zap.Logger) *SlackDeliverer {
	if config.Timeout <= 0 {
		config.Timeout = constants.DefaultDeliveryTimeout
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = constants.DefaultSlackRateLimitPerMinute
	}
	if config.Username == "" {
		config.Username = "Token Monitor"
	}
	if config.IconEmoji == "" {
		config.IconEmoji = ":rocket:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	perSecond := rate.Limit(float64(config.RateLimitPerMinute) / 60.0)

	return &SlackDeliverer{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(perSecond, config.RateLimitPerMinute),
		logger:  logger.Named("slack"),
	}
}

// Type returns the delivery type.
func (d *SlackDeliverer) Type() string {
	return constants.DeliveryTypeSlack
}

// Deliver posts p to the Slack webhook URL in dest, waiting for the rate limiter.
func (d *SlackDeliverer) Deliver(ctx context.Context, dest storage.Destination, p *Payload) error {
	if err := validateURL(string(dest)); err != nil {
		return &DeliveryError{Destination: dest, Err: err}
	}

	body, err := json.Marshal(d.buildMessage(p))
	if err != nil {
		return &DeliveryError{Destination: dest, Err: fmt.Errorf("failed to marshal message: %w", err)}
	}

	err = retry(ctx, d.config.Retry, dest, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return permanent(0, fmt.Errorf("rate limiter: %w", err))
		}
		return d.post(ctx, string(dest), body)
	})
	if err != nil {
		d.logger.Warn("slack delivery failed",
			zap.String("destination", string(dest)),
			zap.Error(err),
		)
		return err
	}

	d.logger.Debug("slack notification delivered", zap.String("token", p.TokenAddress))
	return nil
}

func (d *SlackDeliverer) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return permanent(0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return transient(0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	// Slack answers "ok" on success
	if resp.StatusCode == http.StatusOK && string(respBody) != "ok" {
		return permanent(resp.StatusCode, fmt.Errorf("slack returned %q", string(respBody)))
	}
	return classifyStatus(resp.StatusCode, respBody)
}

// buildMessage lays the payload out as a single attachment.
func (d *SlackDeliverer) buildMessage(p *Payload) *SlackMessage {
	return &SlackMessage{
		Username:  d.config.Username,
		IconEmoji: d.config.IconEmoji,
		Text:      p.Title,
		Attachments: []SlackAttachment{{
			Color: "#16a34a",
			Title: p.Title,
			Text:  p.Description,
			Fields: []SlackField{
				{
					Title: "📍 Addresses",
					Value: fmt.Sprintf("*Token:* `%s`\n*Creator:* `%s`", p.TokenAddress, p.CreatorAddress),
				},
				{
					Title: "💰 Token Info",
					Value: fmt.Sprintf("*Total Supply:* %s\n*Current Price:* %s\n*Initial Purchase:* %s",
						p.TotalSupply, p.CurrentPrice, p.InitialPurchase),
					Short: true,
				},
				{
					Title: "🏦 Liquidity Info",
					Value: fmt.Sprintf("*Starting Liquidity:* %s\n*Current HYPE Reserves:* %s\n*Current Token Reserves:* %s",
						p.StartingLiquidity, p.CurrentHypeReserves, p.CurrentTokenReserves),
					Short: true,
				},
				{
					Title: "🔗 Links",
					Value: slackLinks(p),
				},
			},
			ThumbURL: p.ImageURI,
			Footer:   p.Footer,
			Ts:       p.Created.Unix(),
		}},
	}
}

// slackLinks renders links in Slack's <url|label> syntax.
func slackLinks(p *Payload) string {
	if len(p.Links) == 0 {
		return "No links provided"
	}
	parts := make([]string, len(p.Links))
	for i, l := range p.Links {
		parts[i] = fmt.Sprintf("<%s|%s>", l.URL, l.Label)
	}
	return strings.Join(parts, " | ")
}
