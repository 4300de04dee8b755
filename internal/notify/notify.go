// Package notify delivers drift alerts to operators.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"economy-forecaster/internal/config"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/monitoring"
)

// Notifier sends notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType       `json:"type"`
	Level     models.DriftLevel      `json:"-"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationDrift   NotificationType = "drift"
	NotificationRetrain NotificationType = "retrain"
	NotificationError   NotificationType = "error"
)

// MultiNotifier fans a notification out to every enabled channel. Drift
// notifications below the minimum level are dropped; retrain and error
// notifications always go out.
type MultiNotifier struct {
	channels []Channel
	minLevel models.DriftLevel
	mu       sync.RWMutex
}

// NewMultiNotifier builds the channels named in cfg. The log channel is
// always present.
func NewMultiNotifier(cfg config.NotifyConfig, logger zerolog.Logger) (*MultiNotifier, error) {
	level, err := models.ParseDriftLevel(cfg.MinLevel)
	if err != nil {
		return nil, err
	}
	mn := &MultiNotifier{minLevel: level}
	mn.AddChannel(NewLogNotifier(logger))
	if cfg.WebhookURL != "" {
		mn.AddChannel(NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	return mn, nil
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

func (mn *MultiNotifier) shouldSend(n Notification) bool {
	if n.Type != NotificationDrift {
		return true
	}
	return n.Level.Known() && n.Level >= mn.minLevel
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DriftAlert summarizes a drift check. It is a retrain notification when the
// policy recommends retraining.
func DriftAlert(asOf time.Time, composite monitoring.CompositeResult, checks []models.DriftCheckResult) Notification {
	n := Notification{
		Type:  NotificationDrift,
		Level: composite.Level,
		Title: fmt.Sprintf("Drift %s as of %s", composite.Level, asOf.Format(models.DateLayout)),
		Data: map[string]interface{}{
			"level":       composite.Level.String(),
			"error_level": composite.ErrorLevel.String(),
			"data_level":  composite.DataLevel.String(),
			"shock":       composite.Shock,
			"multiplier":  composite.Multiplier,
		},
	}
	if composite.RetrainRecommended {
		n.Type = NotificationRetrain
		n.Title = fmt.Sprintf("Retrain recommended: drift %s", composite.Level)
	}

	var parts []string
	for _, c := range checks {
		ratio := "n/a"
		if c.Ratio != nil {
			ratio = fmt.Sprintf("%.2fx", *c.Ratio)
		}
		parts = append(parts, fmt.Sprintf("h%d %s (%s, %d live)", c.Horizon, c.Level, ratio, c.NLive))
	}
	n.Message = strings.Join(parts, "; ")
	if composite.Shock {
		n.Message += "; event shock active"
	}
	return n
}

// ErrorAlert reports a failed stage.
func ErrorAlert(err error, stage string) Notification {
	return Notification{
		Type:    NotificationError,
		Title:   fmt.Sprintf("%s failed", stage),
		Message: err.Error(),
	}
}

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool { return w.url != "" }

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "EconomyForecaster/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notify").Logger()}
}

// Name returns the name of the notifier.
func (l *LogNotifier) Name() string { return "log" }

// IsEnabled returns whether the notifier is enabled.
func (l *LogNotifier) IsEnabled() bool { return true }

// Send logs the notification.
func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	ev := l.log.Warn()
	if n.Type == NotificationError {
		ev = l.log.Error()
	}
	ev.Str("type", string(n.Type)).Str("title", n.Title).Msg(n.Message)
	return nil
}

// NoOpNotifier discards notifications.
type NoOpNotifier struct{}

// Send does nothing.
func (NoOpNotifier) Send(context.Context, Notification) error { return nil }
