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

type PagerDutySender struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewPagerDutySender(cfg *config.Config, logger *zap.Logger) *PagerDutySender {
	return &PagerDutySender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *PagerDutySender) Type() db.ChannelType { return db.ChannelPagerDuty }

type pagerDutyEvent struct {
	RoutingKey  string            `json:"routing_key"`
	EventAction string            `json:"event_action"`
	DedupKey    string            `json:"dedup_key"`
	Payload     *pagerDutyPayload `json:"payload,omitempty"`
	Links       []pagerDutyLink   `json:"links,omitempty"`
}

type pagerDutyPayload struct {
	Summary   string `json:"summary"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
	Component string `json:"component,omitempty"`
	Group     string `json:"group,omitempty"`
}

type pagerDutyLink struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

func (s *PagerDutySender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.PagerDutyEnabled {
		return nil
	}

	routingKey := channel.Config.String("routing_key")
	if routingKey == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "missing routing_key"}
	}

	dedupKey := alert.Incident.DedupeHash
	if dedupKey == "" {
		dedupKey = alert.Incident.ID
	}

	event := pagerDutyEvent{
		RoutingKey:  routingKey,
		EventAction: pagerDutyAction(action),
		DedupKey:    dedupKey,
	}

	// Only trigger events carry a payload and links.
	if event.EventAction == "trigger" {
		event.Payload = &pagerDutyPayload{
			Summary:   alert.Incident.Summary,
			Source:    alert.Monitor.Name,
			Severity:  pagerDutySeverity(alert.Incident.Kind),
			Timestamp: alert.Incident.OpenedAt.UTC().Format(time.RFC3339),
			Component: alert.Monitor.Name,
			Group:     alert.Org.Name,
		}
		base := s.cfg.Dashboard.BaseURL
		event.Links = []pagerDutyLink{
			{Href: IncidentURL(base, alert.Incident.ID), Text: "View incident"},
			{Href: MonitorURL(base, alert.Monitor.ID), Text: "View monitor"},
		}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Channels.PagerDutyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("PagerDuty API error: %d - %s", resp.StatusCode, string(respBody))
	}

	s.logger.Debug("PagerDuty event accepted",
		zap.String("incident_id", alert.Incident.ID),
		zap.String("event_action", event.EventAction),
	)
	return nil
}

func pagerDutyAction(action string) string {
	switch action {
	case ActionAcked:
		return "acknowledge"
	case ActionResolved:
		return "resolve"
	default:
		return "trigger"
	}
}

func pagerDutySeverity(kind db.IncidentKind) string {
	switch kind {
	case db.IncidentMissed:
		return "critical"
	case db.IncidentLate, db.IncidentAnomaly:
		return "warning"
	default:
		return "error"
	}
}
