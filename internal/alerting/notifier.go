package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers one event to a single channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Name() string
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Name implements Notifier.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify sends the rendered event text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderText(ev),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("event", ev.Name).
		Str("severity", string(ev.Severity)).
		Str("pair", ev.Pair.Key()).
		Msg("notification sent (telegram)")
	return nil
}

// RenderText renders an event as plain text, one field per line.
func RenderText(ev Event) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %s %s\n", ev.Severity, ev.Name, ev.Pair.Key()))
	if !ev.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s\n", ev.At.UTC().Format(time.RFC3339)))
	}
	if ev.BarTime != nil {
		builder.WriteString(fmt.Sprintf("Bar: %s\n", ev.BarTime.UTC().Format(time.RFC3339)))
	}
	if ev.Message != "" {
		builder.WriteString(ev.Message)
		builder.WriteString("\n")
	}
	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			builder.WriteString(fmt.Sprintf("%s: %s\n", k, ev.Fields[k]))
		}
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
