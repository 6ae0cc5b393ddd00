package notify

import (
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
)

func testConfig() *config.Config {
	return &config.Config{
		Channels: config.ChannelsConfig{
			EmailEnabled:     true,
			SlackEnabled:     true,
			DiscordEnabled:   true,
			WebhookEnabled:   true,
			PagerDutyEnabled: true,
			TeamsEnabled:     true,
			SMSEnabled:       true,
			SMSFrom:          "Pulsewatch",
			WebhookAttempts:  3,
			WebhookBaseDelay: time.Millisecond,
		},
		Dashboard: config.DashboardConfig{BaseURL: "https://app.pulsewatch.io"},
	}
}

func testAlert() *Alert {
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Alert{
		Incident: &db.Incident{
			ID:         "inc-1",
			MonitorID:  "m1",
			OrgID:      "org-1",
			Kind:       db.IncidentMissed,
			Severity:   db.SeverityHigh,
			Status:     db.IncidentOpen,
			Summary:    `Monitor "nightly-backup" missed its scheduled run`,
			Details:    "Expected run at 2025-06-01T11:00:00Z was not reported within the 300s grace period.",
			DedupeHash: "abc123",
			OpenedAt:   opened,
		},
		Monitor: &db.Monitor{
			ID:     "m1",
			OrgID:  "org-1",
			Name:   "nightly-backup",
			Status: db.MonitorMissed,
		},
		Org: &db.Org{ID: "org-1", Name: "Acme"},
		Runs: []*db.Run{
			{Outcome: db.RunMissed},
			{Outcome: db.RunSuccess},
			{Outcome: db.RunSuccess},
		},
	}
}

type fakeMessageStore struct {
	incidentID string
	channel    string
	ts         string
	err        error
}

func (f *fakeMessageStore) UpdateIncidentSlackMessage(incidentID, channel, messageTS string) error {
	f.incidentID = incidentID
	f.channel = channel
	f.ts = messageTS
	return f.err
}
