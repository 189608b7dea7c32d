package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification is the delivery payload for alert and digest events.
type Notification struct {
	Kind    string // "alert_step", "alert_disarm", "digest"
	Pair    string // empty for digests
	At      time.Time
	Subject string
	Text    string
}

// Notifier delivers a notification. Delivery is best-effort; the engine never
// rolls back state on delivery failure.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// RenderAlert formats an alert outcome as plain text.
func RenderAlert(pair string, out Outcome, at time.Time) Notification {
	builder := strings.Builder{}
	kind := "alert_step"
	subject := fmt.Sprintf("%s divergence %s to %s%%", pair, out.Direction, fixed(out.NewLevel))
	if out.Kind == OutcomeDisarm {
		kind = "alert_disarm"
		subject = fmt.Sprintf("%s divergence back to quiet", pair)
	}

	builder.WriteString("[" + pair + "]\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", at.UTC().Format(time.RFC3339)))
	if out.Kind == OutcomeDisarm {
		builder.WriteString(fmt.Sprintf("Divergence back in range (was level %s%%)\n", fixed(out.PrevLevel)))
	} else {
		builder.WriteString(fmt.Sprintf("Direction: %s (moved %s%%)\n", out.Direction, fixed(out.StepMovePct)))
		builder.WriteString(fmt.Sprintf("Level: %s%%\n", fixed(out.NewLevel)))
	}
	builder.WriteString(fmt.Sprintf("Volume velocity: %s%%/h\n", fixed(out.VelocityPct)))
	builder.WriteString(fmt.Sprintf("Price change: %s%%\n", fixed(out.PriceChangePct)))
	builder.WriteString(fmt.Sprintf("Divergence: %s%%\n", fixed(out.DivergencePct)))
	builder.WriteString(fmt.Sprintf("Trend: %s%%/min\n", fixed(out.TrendPerMinPct)))

	return Notification{Kind: kind, Pair: pair, At: at, Subject: subject, Text: builder.String()}
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the text via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    note.Text,
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
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", note.Kind).Str("pair", note.Pair).Msg("notification sent (telegram)")
	return nil
}

// WebhookNotifier posts a JSON payload to a generic webhook endpoint.
type WebhookNotifier struct {
	url    string
	client *resty.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: resty.New().SetTimeout(timeout),
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify delivers the payload as {kind, pair, at, subject, text}.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"kind":    note.Kind,
			"pair":    note.Pair,
			"at":      note.At.UTC().Format(time.RFC3339),
			"subject": note.Subject,
			"text":    note.Text,
		}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook status %d", resp.StatusCode())
	}

	n.logger.Info().Str("kind", note.Kind).Str("pair", note.Pair).Msg("notification sent (webhook)")
	return nil
}

// Fanout delivers to every configured channel and reports the first error.
type Fanout struct {
	targets []Notifier
}

// NewFanout builds a fan-out notifier; nil targets are skipped.
func NewFanout(targets ...Notifier) *Fanout {
	kept := make([]Notifier, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &Fanout{targets: kept}
}

// Empty reports whether any channel is configured.
func (f *Fanout) Empty() bool {
	return len(f.targets) == 0
}

// Notify fans the notification out to all channels.
func (f *Fanout) Notify(ctx context.Context, note Notification) error {
	var firstErr error
	for _, t := range f.targets {
		if err := t.Notify(ctx, note); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*Fanout)(nil)
)
