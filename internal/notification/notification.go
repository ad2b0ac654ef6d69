// Package notification pushes trade events to webhook providers.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotifyCopyAction       NotificationType = "copy_action"
	NotifyIndependentOpen  NotificationType = "independent_open"
	NotifyIndependentClose NotificationType = "independent_close"
	NotifyError            NotificationType = "error"
)

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Timestamp time.Time
}

// Notifier interface for different notification providers.
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans one notification out to all enabled providers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{notifiers: make([]Notifier, 0)}
}

// AddNotifier adds a notification provider.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers. A provider failure
// does not stop delivery to the others; the last failure is returned.
func (m *Manager) Send(notification *Notification) error {
	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = fmt.Errorf("%s: %w", n.Name(), err)
			}
		}
	}
	return lastErr
}

// SendCopyAction notifies about an executed copy action.
func (m *Manager) SendCopyAction(symbol, action, side string, size, price float64) error {
	return m.Send(&Notification{
		Type:      NotifyCopyAction,
		Title:     fmt.Sprintf("Copy %s: %s", action, symbol),
		Message:   fmt.Sprintf("%s %s %.6f %s @ %.4f", action, side, size, symbol, price),
		Symbol:    symbol,
		Timestamp: time.Now(),
	})
}

// SendIndependentOpen notifies about a new independent entry.
func (m *Manager) SendIndependentOpen(symbol string, size, price, score float64) error {
	return m.Send(&Notification{
		Type:      NotifyIndependentOpen,
		Title:     fmt.Sprintf("Independent entry: %s", symbol),
		Message:   fmt.Sprintf("long %.6f %s @ %.4f (score %.0f)", size, symbol, price, score),
		Symbol:    symbol,
		Timestamp: time.Now(),
	})
}

// SendIndependentClose notifies about an independent exit.
func (m *Manager) SendIndependentClose(symbol, reason string, pnl, pnlPct float64) error {
	return m.Send(&Notification{
		Type:      NotifyIndependentClose,
		Title:     fmt.Sprintf("Independent exit: %s", symbol),
		Message:   fmt.Sprintf("%s closed (%s), pnl %.2f USD (%.2f%%)", symbol, reason, pnl, pnlPct),
		Symbol:    symbol,
		Timestamp: time.Now(),
	})
}

// ==================== TELEGRAM ====================

// TelegramConfig holds Telegram notifier settings.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// TelegramNotifier sends notifications via the Telegram bot API.
type TelegramNotifier struct {
	config     TelegramConfig
	httpClient *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.config.Enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.config.BotToken)
	text := fmt.Sprintf("%s\n%s", n.Title, n.Message)

	resp, err := t.httpClient.PostForm(endpoint, url.Values{
		"chat_id": {t.config.ChatID},
		"text":    {text},
	})
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// ==================== DISCORD ====================

// DiscordConfig holds Discord notifier settings.
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// DiscordNotifier sends notifications via a Discord webhook.
type DiscordNotifier struct {
	config     DiscordConfig
	httpClient *http.Client
}

// NewDiscordNotifier creates a Discord notifier.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string    { return "discord" }
func (d *DiscordNotifier) IsEnabled() bool { return d.config.Enabled }

func (d *DiscordNotifier) Send(n *Notification) error {
	payload, err := json.Marshal(map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Message),
	})
	if err != nil {
		return fmt.Errorf("failed to encode discord payload: %w", err)
	}

	resp, err := d.httpClient.Post(d.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("discord send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned status %d", resp.StatusCode)
	}
	return nil
}
