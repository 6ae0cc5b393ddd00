// Package router resolves which channels an incident fans out to and
// enforces suppression windows before any delivery is enqueued.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/notify"
	"github.com/pulsewatch/pulsewatch/internal/queue"
	"go.uber.org/zap"
)

const defaultSuppressMinutes = 5

type Store interface {
	GetIncident(id string) (*db.Incident, error)
	GetMonitorByID(id string) (*db.Monitor, error)
	RulesForOrg(orgID string) ([]*db.Rule, error)
	GetChannel(id string) (*db.AlertChannel, error)
	UpdateIncidentLastAlerted(id string, at time.Time) error
}

type Enqueuer interface {
	Push(ctx context.Context, queueName string, job *queue.Job, delay time.Duration) error
}

type Router struct {
	store   Store
	queue   Enqueuer
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewRouter(store Store, q Enqueuer, logger *zap.Logger, collector *metrics.Collector) *Router {
	return &Router{
		store:   store,
		queue:   q,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Dispatch fans one incident out to its channels. Suppression outcomes are
// business no-ops, not errors: the dispatch job completes successfully
// without deliveries.
func (r *Router) Dispatch(ctx context.Context, incidentID, action string) error {
	inc, err := r.store.GetIncident(incidentID)
	if err != nil {
		return fmt.Errorf("failed to load incident: %w", err)
	}

	now := r.now()

	// Explicit operator snooze wins over everything.
	if inc.SuppressUntil != nil && inc.SuppressUntil.After(now) {
		r.metrics.RecordSuppressed(inc.OrgID, "snoozed")
		r.logger.Info("dispatch skipped: incident snoozed",
			zap.String("incident_id", inc.ID),
			zap.Time("suppress_until", *inc.SuppressUntil),
		)
		return nil
	}

	monitor, err := r.store.GetMonitorByID(inc.MonitorID)
	if err != nil {
		return fmt.Errorf("failed to load monitor: %w", err)
	}

	rules, err := r.store.RulesForOrg(inc.OrgID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	matched := matchRules(rules, monitor.ID)

	// Cooldown gates repeat alerts for an episode. Resolve updates bypass
	// it: a recovery notice is never an alert storm.
	if action == notify.ActionOpened && inc.LastAlertedAt != nil {
		window := time.Duration(suppressMinutes(matched)) * time.Minute
		if now.Sub(*inc.LastAlertedAt) < window {
			r.metrics.RecordSuppressed(inc.OrgID, "cooldown")
			r.logger.Debug("dispatch skipped: within cooldown",
				zap.String("incident_id", inc.ID),
				zap.Duration("window", window),
			)
			return nil
		}
	}

	if len(matched) == 0 {
		r.logger.Info("no alert rules match monitor, nothing to dispatch",
			zap.String("incident_id", inc.ID),
			zap.String("monitor_id", monitor.ID),
		)
		return nil
	}

	channelIDs := unionChannelIDs(matched)

	var enqueued int
	for _, channelID := range channelIDs {
		channel, err := r.store.GetChannel(channelID)
		if err != nil {
			// A dangling channel id must not block the remaining channels.
			r.logger.Warn("skipping unresolvable channel",
				zap.String("channel_id", channelID),
				zap.Error(err),
			)
			continue
		}

		job := &queue.Job{
			ID:          uuid.New().String(),
			IncidentID:  inc.ID,
			ChannelID:   channel.ID,
			ChannelType: string(channel.Type),
			Action:      action,
			CreatedAt:   now,
		}
		if err := r.queue.Push(ctx, queue.DeliveryQueue(string(channel.Type)), job, 0); err != nil {
			return fmt.Errorf("failed to enqueue delivery: %w", err)
		}
		enqueued++
	}

	if enqueued == 0 {
		return nil
	}

	if err := r.store.UpdateIncidentLastAlerted(inc.ID, now); err != nil {
		return fmt.Errorf("failed to update last alerted: %w", err)
	}

	r.logger.Info("dispatched incident to channels",
		zap.String("incident_id", inc.ID),
		zap.String("action", action),
		zap.Int("channels", enqueued),
	)
	return nil
}

// matchRules keeps the rules scoped to this monitor: an empty MonitorIDs list
// applies to every monitor in the org.
func matchRules(rules []*db.Rule, monitorID string) []*db.Rule {
	var matched []*db.Rule
	for _, rule := range rules {
		if len(rule.MonitorIDs) == 0 {
			matched = append(matched, rule)
			continue
		}
		for _, id := range rule.MonitorIDs {
			if id == monitorID {
				matched = append(matched, rule)
				break
			}
		}
	}
	return matched
}

// suppressMinutes picks the tightest cooldown across the matched rules, or
// the default when no rule matches.
func suppressMinutes(matched []*db.Rule) int {
	minutes := 0
	for _, rule := range matched {
		if rule.SuppressMinutes > 0 && (minutes == 0 || rule.SuppressMinutes < minutes) {
			minutes = rule.SuppressMinutes
		}
	}
	if minutes == 0 {
		minutes = defaultSuppressMinutes
	}
	return minutes
}

func unionChannelIDs(rules []*db.Rule) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, rule := range rules {
		for _, id := range rule.ChannelIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
