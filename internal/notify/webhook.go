package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

// ErrWebhookExhausted means the webhook sender used up its own retry budget.
// The dispatcher records the failure but must not re-enqueue: this sender
// retries independently of the substrate.
var ErrWebhookExhausted = errors.New("webhook delivery exhausted retries")

type WebhookSender struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewWebhookSender(cfg *config.Config, logger *zap.Logger) *WebhookSender {
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (s *WebhookSender) Type() db.ChannelType { return db.ChannelWebhook }

type webhookPayload struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Incident  webhookIncident `json:"incident"`
	Monitor   webhookMonitor  `json:"monitor"`
}

type webhookIncident struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Severity   string  `json:"severity"`
	Status     string  `json:"status"`
	Summary    string  `json:"summary"`
	Details    string  `json:"details"`
	OpenedAt   string  `json:"opened_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

type webhookMonitor struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	LastRunAt *string `json:"last_run_at,omitempty"`
}

// Sign computes the hex HMAC-SHA256 signature attached to signed webhook
// deliveries. Exposed so receivers can be verified against it.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.WebhookEnabled {
		return nil
	}

	url := channel.Config.String("url")
	if url == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "missing url"}
	}

	body, err := json.Marshal(s.buildPayload(action, alert))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	secret := channel.Config.String("secret")

	attempts := s.cfg.Channels.WebhookAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.cfg.Channels.WebhookBaseDelay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := s.post(ctx, url, body, secret, timestamp); err != nil {
			lastErr = err
			s.logger.Warn("webhook delivery attempt failed",
				zap.String("channel_id", channel.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return nil
	}

	s.logger.Error("webhook delivery failed permanently",
		zap.String("channel_id", channel.ID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return ErrWebhookExhausted
}

func (s *WebhookSender) post(ctx context.Context, url string, body []byte, secret, timestamp string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Pulsewatch-Signature", Sign(secret, body))
		req.Header.Set("X-Pulsewatch-Timestamp", timestamp)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSender) buildPayload(action string, alert *Alert) webhookPayload {
	inc := alert.Incident
	m := alert.Monitor

	p := webhookPayload{
		Event:     "incident." + action,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Incident: webhookIncident{
			ID:       inc.ID,
			Kind:     string(inc.Kind),
			Severity: string(inc.Severity),
			Status:   string(inc.Status),
			Summary:  inc.Summary,
			Details:  inc.Details,
			OpenedAt: inc.OpenedAt.UTC().Format(time.RFC3339),
		},
		Monitor: webhookMonitor{
			ID:     m.ID,
			Name:   m.Name,
			Status: string(m.Status),
		},
	}
	if inc.ResolvedAt != nil {
		v := inc.ResolvedAt.UTC().Format(time.RFC3339)
		p.Incident.ResolvedAt = &v
	}
	if m.LastRunAt != nil {
		v := m.LastRunAt.UTC().Format(time.RFC3339)
		p.Monitor.LastRunAt = &v
	}
	return p
}
