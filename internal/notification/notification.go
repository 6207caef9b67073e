// Package notification delivers pending trade alerts to users over Telegram
// and Discord. Delivery is best effort and idempotent per alert ID; the
// alert store, not the notifier, is the source of truth.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/alert"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
)

// Provider is one delivery backend.
type Provider interface {
	SendAlert(ctx context.Context, channel string, a *alert.Info) error
	Name() string
	IsEnabled() bool
}

// Manager fans alerts out to every enabled provider and deduplicates by
// alert ID so retries never double-notify.
type Manager struct {
	providers []Provider
	log       *logging.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewManager creates a notification manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		log:  log.WithComponent("notification"),
		seen: make(map[string]time.Time),
	}
}

// AddProvider registers a delivery backend.
func (m *Manager) AddProvider(p Provider) {
	m.providers = append(m.providers, p)
}

// SendAlert delivers one alert to all enabled providers. A repeated alert ID
// is a no-op. The last provider error is returned; partial delivery still
// counts as seen so a retry cannot duplicate the successful channels.
func (m *Manager) SendAlert(ctx context.Context, channel string, a *alert.Info) error {
	m.mu.Lock()
	if _, dup := m.seen[a.AlertID]; dup {
		m.mu.Unlock()
		return nil
	}
	m.seen[a.AlertID] = time.Now()
	m.pruneLocked()
	m.mu.Unlock()

	var lastErr error
	for _, p := range m.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.SendAlert(ctx, channel, a); err != nil {
			m.log.Warn("alert delivery failed",
				"provider", p.Name(), "alert_id", a.AlertID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// pruneLocked drops dedup entries old enough that their alerts have long
// expired. Called with the mutex held.
func (m *Manager) pruneLocked() {
	cutoff := time.Now().Add(-2 * alert.TTL)
	for id, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, id)
		}
	}
}

// ----------------------------------------------------------------------------
// Telegram
// ----------------------------------------------------------------------------

// TelegramConfig holds Telegram bot settings. ChatID is the fallback
// destination when an alert's channel is empty.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Enabled  bool   `json:"enabled"`
}

// Telegram delivers alerts as Telegram messages with inline approve/reject
// buttons. Callback data carries "approve:{id}" / "reject:{id}" for the API
// layer to act on.
type Telegram struct {
	config TelegramConfig
	client *http.Client
}

// NewTelegram creates a Telegram provider.
func NewTelegram(config TelegramConfig) *Telegram {
	return &Telegram{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) IsEnabled() bool {
	return t.config.Enabled && t.config.BotToken != ""
}

// SendAlert implements Provider.
func (t *Telegram) SendAlert(ctx context.Context, channel string, a *alert.Info) error {
	chatID := channel
	if chatID == "" {
		chatID = t.config.ChatID
	}
	if chatID == "" {
		return fmt.Errorf("no telegram chat for alert %s", a.AlertID)
	}

	text := fmt.Sprintf(
		"*%s %s* (%s)\nPrice: %.0f KRW\nQuantity: %d\nConfidence: %.0f%%\nReason: %s\n\nExpires in 5 minutes.",
		a.SignalType, a.StockName, a.StockCode,
		a.CurrentPrice, a.SuggestedQuantity, a.Confidence*100, a.Reason,
	)

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]any{{
				{"text": "Approve", "callback_data": "approve:" + a.AlertID},
				{"text": "Reject", "callback_data": "reject:" + a.AlertID},
			}},
		},
	}
	return t.call(ctx, "sendMessage", payload)
}

// EditAfterAction rewrites a delivered alert message once it is resolved,
// removing the buttons.
func (t *Telegram) EditAfterAction(ctx context.Context, channel string, messageID int64, action, detail string) error {
	chatID := channel
	if chatID == "" {
		chatID = t.config.ChatID
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       fmt.Sprintf("Alert %s. %s", action, detail),
	}
	return t.call(ctx, "editMessageText", payload)
}

// AnswerCallback acknowledges an inline-button press.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        showAlert,
	}
	return t.call(ctx, "answerCallbackQuery", payload)
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram %s payload: %w", method, err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.config.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram %s returned status %d", method, resp.StatusCode)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Discord
// ----------------------------------------------------------------------------

// DiscordConfig holds Discord webhook settings.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Enabled    bool   `json:"enabled"`
}

// Discord delivers alerts as webhook embeds. Discord has no inline approval
// UI, so the embed carries the alert ID for use with the HTTP API.
type Discord struct {
	config DiscordConfig
	client *http.Client
}

// NewDiscord creates a Discord provider.
func NewDiscord(config DiscordConfig) *Discord {
	return &Discord{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) IsEnabled() bool {
	return d.config.Enabled && d.config.WebhookURL != ""
}

// SendAlert implements Provider.
func (d *Discord) SendAlert(ctx context.Context, channel string, a *alert.Info) error {
	color := 0x2ECC71 // green for BUY
	if a.SignalType == "SELL" {
		color = 0xE74C3C
	}

	embed := map[string]any{
		"title":       fmt.Sprintf("%s %s (%s)", a.SignalType, a.StockName, a.StockCode),
		"description": a.Reason,
		"color":       color,
		"timestamp":   a.CreatedAt.Format(time.RFC3339),
		"fields": []map[string]any{
			{"name": "Price", "value": fmt.Sprintf("%.0f KRW", a.CurrentPrice), "inline": true},
			{"name": "Quantity", "value": fmt.Sprintf("%d", a.SuggestedQuantity), "inline": true},
			{"name": "Confidence", "value": fmt.Sprintf("%.0f%%", a.Confidence*100), "inline": true},
			{"name": "Alert ID", "value": a.AlertID, "inline": false},
		},
	}

	data, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
