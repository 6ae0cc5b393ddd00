package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

// EmailSender delivers through an HTTP email-send API (one POST per
// delivery, all recipients in a single call).
type EmailSender struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewEmailSender(cfg *config.Config, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (s *EmailSender) Type() db.ChannelType { return db.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.EmailEnabled {
		return nil
	}

	if s.cfg.Channels.EmailAPIURL == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "email API not configured"}
	}

	recipients := channel.Config.Strings("recipients")
	if len(recipients) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"from":    s.cfg.Channels.EmailFrom,
		"to":      recipients,
		"subject": Title(action, alert),
		"html":    s.buildHTML(action, alert),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Channels.EmailAPIURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Channels.EmailAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Channels.EmailAPIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email API error: %d - %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *EmailSender) buildHTML(action string, alert *Alert) string {
	inc := alert.Incident
	m := alert.Monitor
	base := s.cfg.Dashboard.BaseURL

	var b bytes.Buffer
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(Title(action, alert)))
	fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(inc.Summary))
	b.WriteString("<table cellpadding=\"4\">")
	fmt.Fprintf(&b, "<tr><td><b>Monitor</b></td><td>%s</td></tr>", html.EscapeString(m.Name))
	fmt.Fprintf(&b, "<tr><td><b>Kind</b></td><td>%s</td></tr>", inc.Kind)
	fmt.Fprintf(&b, "<tr><td><b>Severity</b></td><td>%s</td></tr>", inc.Severity)
	fmt.Fprintf(&b, "<tr><td><b>Opened</b></td><td>%s</td></tr>", formatTime(&inc.OpenedAt))
	fmt.Fprintf(&b, "<tr><td><b>Last run</b></td><td>%s</td></tr>", html.EscapeString(lastRunLine(m)))
	if glyphs := RunGlyphs(alert.Runs); glyphs != "" {
		fmt.Fprintf(&b, "<tr><td><b>Recent runs</b></td><td>%s</td></tr>", glyphs)
	}
	b.WriteString("</table>")
	if inc.Details != "" {
		fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(inc.Details))
	}
	fmt.Fprintf(&b, "<p><a href=\"%s\">View incident</a> · <a href=\"%s\">View monitor</a></p>",
		IncidentURL(base, inc.ID), MonitorURL(base, m.ID))
	return b.String()
}
