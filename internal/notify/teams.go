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

const teamsDetailsLimit = 500

type TeamsSender struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewTeamsSender(cfg *config.Config, logger *zap.Logger) *TeamsSender {
	return &TeamsSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *TeamsSender) Type() db.ChannelType { return db.ChannelTeams }

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string    `json:"contentType"`
	Content     teamsCard `json:"content"`
}

type teamsCard struct {
	Type    string        `json:"type"`
	Version string        `json:"version"`
	Schema  string        `json:"$schema"`
	Body    []interface{} `json:"body"`
	Actions []teamsAction `json:"actions"`
}

type teamsTextBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap"`
}

type teamsFactSet struct {
	Type  string      `json:"type"`
	Facts []teamsFact `json:"facts"`
}

type teamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type teamsAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (s *TeamsSender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.TeamsEnabled {
		return nil
	}

	webhookURL := channel.Config.String("webhook_url")
	if webhookURL == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "missing webhook_url"}
	}

	card := s.buildCard(action, alert)
	body, err := json.Marshal(teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content:     card,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal teams card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("teams webhook error: %d - %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *TeamsSender) buildCard(action string, alert *Alert) teamsCard {
	inc := alert.Incident

	facts := []teamsFact{
		{Title: "Monitor", Value: alert.Monitor.Name},
		{Title: "Organization", Value: alert.Org.Name},
		{Title: "Kind", Value: string(inc.Kind)},
		{Title: "Status", Value: string(inc.Status)},
		{Title: "Opened", Value: formatTime(&inc.OpenedAt)},
	}
	if inc.AcknowledgedAt != nil {
		facts = append(facts, teamsFact{Title: "Acknowledged", Value: formatTime(inc.AcknowledgedAt)})
	}
	if inc.ResolvedAt != nil {
		facts = append(facts, teamsFact{Title: "Resolved", Value: formatTime(inc.ResolvedAt)})
	}

	body := []interface{}{
		teamsTextBlock{
			Type:   "TextBlock",
			Text:   Title(action, alert),
			Size:   "Large",
			Weight: "Bolder",
			Color:  teamsTitleColor(action),
			Wrap:   true,
		},
		teamsFactSet{Type: "FactSet", Facts: facts},
	}
	if inc.Details != "" {
		body = append(body, teamsTextBlock{
			Type: "TextBlock",
			Text: Truncate(inc.Details, teamsDetailsLimit),
			Wrap: true,
		})
	}

	base := s.cfg.Dashboard.BaseURL
	return teamsCard{
		Type:    "AdaptiveCard",
		Version: "1.4",
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Body:    body,
		Actions: []teamsAction{
			{Type: "Action.OpenUrl", Title: "View Incident", URL: IncidentURL(base, inc.ID)},
			{Type: "Action.OpenUrl", Title: "View Monitor", URL: MonitorURL(base, alert.Monitor.ID)},
		},
	}
}

func teamsTitleColor(action string) string {
	switch action {
	case ActionAcked:
		return "warning"
	case ActionResolved:
		return "good"
	default:
		return "attention"
	}
}
