package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

const (
	discordColorRed    = 16711680 // opened
	discordColorOrange = 16753920 // acked
	discordColorGreen  = 65280    // resolved
)

type DiscordSender struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewDiscordSender(cfg *config.Config, logger *zap.Logger) *DiscordSender {
	return &DiscordSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *DiscordSender) Type() db.ChannelType { return db.ChannelDiscord }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
	URL         string         `json:"url,omitempty"`
}

type discordWebhookRequest struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (s *DiscordSender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.DiscordEnabled {
		return nil
	}

	webhookURL := channel.Config.String("webhook_url")
	if webhookURL == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "missing webhook_url"}
	}

	inc := alert.Incident
	m := alert.Monitor

	fields := []discordField{
		{Name: "Monitor", Value: m.Name, Inline: true},
		{Name: "Kind", Value: string(inc.Kind), Inline: true},
		{Name: "Severity", Value: string(inc.Severity), Inline: true},
		{Name: "Last run", Value: lastRunLine(m), Inline: false},
	}
	if glyphs := RunGlyphs(alert.Runs); glyphs != "" {
		fields = append(fields, discordField{Name: "Recent runs", Value: glyphs, Inline: false})
	}

	payload := discordWebhookRequest{
		Username: "Pulsewatch",
		Embeds: []discordEmbed{{
			Title:       Title(action, alert),
			Description: inc.Summary,
			Color:       discordColor(action),
			Fields:      fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			URL:         IncidentURL(s.cfg.Dashboard.BaseURL, inc.ID),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord webhook error: %d - %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func discordColor(action string) int {
	switch action {
	case ActionAcked:
		return discordColorOrange
	case ActionResolved:
		return discordColorGreen
	default:
		return discordColorRed
	}
}
