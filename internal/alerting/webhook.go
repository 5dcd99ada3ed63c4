package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier POSTs the event as JSON to an arbitrary endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "notify_webhook").Logger(),
	}
}

// Name implements Notifier.
func (n *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Event     string            `json:"event"`
	Severity  string            `json:"severity"`
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	BarTime   *time.Time        `json:"bar_time,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// Notify delivers the event as a JSON document.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{
		Event:     ev.Name,
		Severity:  string(ev.Severity),
		Symbol:    ev.Pair.Symbol,
		Timeframe: ev.Pair.Timeframe,
		BarTime:   ev.BarTime,
		Message:   ev.Message,
		Fields:    ev.Fields,
		At:        ev.At,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook unexpected status: %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("event", ev.Name).
		Str("severity", string(ev.Severity)).
		Str("pair", ev.Pair.Key()).
		Msg("notification sent (webhook)")
	return nil
}

// SlackNotifier posts the rendered text to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier constructs a Slack notifier.
func NewSlackNotifier(webhookURL string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "notify_slack").Logger(),
	}
}

// Name implements Notifier.
func (n *SlackNotifier) Name() string { return "slack" }

// Notify delivers the event in Slack's incoming-webhook format.
func (n *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(map[string]string{"text": RenderText(ev)})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack unexpected status: %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("event", ev.Name).
		Str("severity", string(ev.Severity)).
		Str("pair", ev.Pair.Key()).
		Msg("notification sent (slack)")
	return nil
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*SlackNotifier)(nil)
)
