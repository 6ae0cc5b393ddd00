package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

const defaultSlackAPI = "https://slack.com/api"

// SlackSender posts via the Slack Web API rather than an incoming webhook:
// chat.postMessage returns the message timestamp, which is persisted onto the
// incident so ack/resolve updates edit the original message instead of
// posting a new one.
type SlackSender struct {
	cfg    *config.Config
	store  MessageStore
	client *http.Client
	logger *zap.Logger
}

func NewSlackSender(cfg *config.Config, store MessageStore, logger *zap.Logger) *SlackSender {
	return &SlackSender{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *SlackSender) Type() db.ChannelType { return db.ChannelSlack }

type slackResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

func (s *SlackSender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.SlackEnabled {
		return nil
	}

	token := channel.Config.String("token")
	slackChannel := channel.Config.String("channel")
	if token == "" || slackChannel == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "missing token or channel"}
	}

	apiBase := channel.Config.String("api_url")
	if apiBase == "" {
		apiBase = defaultSlackAPI
	}

	payload := map[string]interface{}{
		"channel": slackChannel,
		"text":    Title(action, alert),
		"blocks":  s.buildBlocks(action, alert),
	}

	method := "chat.postMessage"
	inc := alert.Incident
	if action != ActionOpened && inc.SlackMessageTS != nil && inc.SlackChannel != nil {
		method = "chat.update"
		payload["channel"] = *inc.SlackChannel
		payload["ts"] = *inc.SlackMessageTS
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(apiBase, "/")+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	var sr slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !sr.OK {
		return fmt.Errorf("slack API error: %s", sr.Error)
	}

	if method == "chat.postMessage" {
		if err := s.store.UpdateIncidentSlackMessage(inc.ID, sr.Channel, sr.TS); err != nil {
			// The message went out; losing the coordinates only costs the
			// thread edit on resolve.
			s.logger.Error("failed to persist slack message coordinates",
				zap.String("incident_id", inc.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *SlackSender) buildBlocks(action string, alert *Alert) []map[string]interface{} {
	inc := alert.Incident
	m := alert.Monitor

	fields := []map[string]string{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Monitor:*\n%s", m.Name)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", inc.Severity)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Kind:*\n%s", inc.Kind)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Last run:*\n%s", lastRunLine(m))},
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]string{"type": "plain_text", "text": Title(action, alert), "emoji": "true"},
		},
		{
			"type":   "section",
			"fields": fields,
		},
	}

	if inc.Summary != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]string{"type": "mrkdwn", "text": inc.Summary},
		})
	}

	if glyphs := RunGlyphs(alert.Runs); glyphs != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "context",
			"elements": []map[string]string{
				{"type": "mrkdwn", "text": "Recent runs: " + glyphs},
			},
		})
	}

	base := s.cfg.Dashboard.BaseURL
	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]string{
			{"type": "mrkdwn", "text": fmt.Sprintf("<%s|View incident> · <%s|View monitor>",
				IncidentURL(base, inc.ID), MonitorURL(base, m.ID))},
		},
	})

	return blocks
}
