// Package notify contains one sender per alert channel type. Senders format
// a vendor-specific message for an incident and perform a single outbound
// call; retry policy lives in the dispatch workers, except for the webhook
// sender which manages its own retry loop.
package notify

import (
	"context"
	"fmt"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

const (
	ActionOpened   = "opened"
	ActionAcked    = "acked"
	ActionResolved = "resolved"
)

// Alert is the loaded context a sender formats a message from.
type Alert struct {
	Incident *db.Incident
	Monitor  *db.Monitor
	Org      *db.Org
	Runs     []*db.Run
}

type Sender interface {
	Type() db.ChannelType
	Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error
}

// ConfigError marks a delivery that cannot succeed without operator
// intervention (missing webhook URL, wrong channel type, absent credentials).
// The dispatcher drops it instead of retrying.
type ConfigError struct {
	ChannelID string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("channel %s misconfigured: %s", e.ChannelID, e.Reason)
}

// IsConfigError reports whether a delivery failure is terminal.
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}

// MessageStore is the narrow store surface senders that persist vendor
// message coordinates need (currently only Slack).
type MessageStore interface {
	UpdateIncidentSlackMessage(incidentID, channel, messageTS string) error
}

// NewRegistry wires every channel type to its sender. Adding a channel type
// is one entry here plus its sender file.
func NewRegistry(cfg *config.Config, store MessageStore, limiter *SMSRateLimiter, logger *zap.Logger) map[db.ChannelType]Sender {
	senders := []Sender{
		NewEmailSender(cfg, logger),
		NewSlackSender(cfg, store, logger),
		NewDiscordSender(cfg, logger),
		NewWebhookSender(cfg, logger),
		NewPagerDutySender(cfg, logger),
		NewTeamsSender(cfg, logger),
		NewSMSSender(cfg, limiter, logger),
	}

	registry := make(map[db.ChannelType]Sender, len(senders))
	for _, s := range senders {
		registry[s.Type()] = s
	}
	return registry
}
