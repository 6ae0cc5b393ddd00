package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/policy"
	"github.com/pulsewatch/pulsewatch/internal/queue"
	"go.uber.org/zap"
)

type ExpiryStore interface {
	ExpiryMonitors() ([]*db.Monitor, error)
	LatestExpiryRecord(monitorID string, kind db.ExpiryKind) (*db.ExpiryRecord, error)
	CreateExpiryRecord(rec *db.ExpiryRecord) error
	UpdateMonitorAlertPoint(id string, kind db.ExpiryKind, days *int) error
	ActiveIncidentByHash(monitorID, dedupeHash string) (*db.Incident, error)
	CreateIncident(inc *db.Incident) error
}

// ExpiryChecker sweeps certificate and domain-registration expiry for
// monitors that opted in, and feeds crossings into the incident pipeline as
// anomaly incidents.
type ExpiryChecker struct {
	store   ExpiryStore
	queue   Enqueuer
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	// Probes are injectable for tests; defaults dial TLS / query WHOIS.
	certExpiry   func(target string) (time.Time, error)
	domainExpiry func(target string) (time.Time, error)
}

func NewExpiryChecker(store ExpiryStore, q Enqueuer, logger *zap.Logger, collector *metrics.Collector) *ExpiryChecker {
	return &ExpiryChecker{
		store:        store,
		queue:        q,
		logger:       logger,
		metrics:      collector,
		now:          time.Now,
		certExpiry:   fetchCertExpiry,
		domainExpiry: fetchDomainExpiry,
	}
}

// Sweep checks every expiry-enabled monitor once. Probe failures are logged
// and skipped rather than aborting the sweep: a flaky WHOIS server must not
// starve the remaining monitors.
func (c *ExpiryChecker) Sweep(ctx context.Context) error {
	monitors, err := c.store.ExpiryMonitors()
	if err != nil {
		return fmt.Errorf("failed to load expiry monitors: %w", err)
	}

	for _, m := range monitors {
		if m.CheckSSL {
			if err := c.checkOne(ctx, m, db.ExpirySSL); err != nil {
				return err
			}
		}
		if m.CheckDomain {
			if err := c.checkOne(ctx, m, db.ExpiryDomain); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *ExpiryChecker) checkOne(ctx context.Context, m *db.Monitor, kind db.ExpiryKind) error {
	probe := c.certExpiry
	thresholds := []int(m.SSLThresholds)
	lastPoint := m.SSLAlertPoint
	if kind == db.ExpiryDomain {
		probe = c.domainExpiry
		thresholds = []int(m.DomainThresholds)
		lastPoint = m.DomainAlertPoint
	}

	expiresAt, err := probe(m.Target)
	if err != nil {
		c.logger.Warn("expiry probe failed",
			zap.String("monitor_id", m.ID),
			zap.String("kind", string(kind)),
			zap.String("target", m.Target),
			zap.Error(err),
		)
		return nil
	}

	now := c.now()
	days := int(expiresAt.Sub(now).Hours() / 24)

	// A renewal pushes the expiry date forward past the previous check.
	// Re-arm the thresholds, otherwise the stale alert point keeps every
	// higher threshold silenced for the renewed cert or registration.
	prev, err := c.store.LatestExpiryRecord(m.ID, kind)
	if err != nil {
		return err
	}
	if prev != nil && lastPoint != nil && expiresAt.After(prev.ExpiresAt.Add(24*time.Hour)) {
		if err := c.store.UpdateMonitorAlertPoint(m.ID, kind, nil); err != nil {
			return err
		}
		lastPoint = nil
		c.logger.Info("expiry renewed, thresholds re-armed",
			zap.String("monitor_id", m.ID),
			zap.String("kind", string(kind)),
			zap.Time("expires_at", expiresAt),
		)
	}

	if err := c.store.CreateExpiryRecord(&db.ExpiryRecord{
		ID:              uuid.New().String(),
		MonitorID:       m.ID,
		Kind:            kind,
		Domain:          m.Target,
		ExpiresAt:       expiresAt,
		DaysUntilExpiry: days,
		LastCheckedAt:   now,
	}); err != nil {
		return err
	}
	c.metrics.RecordExpiry(m, kind, days)

	// Already expired always alerts; otherwise the threshold policy decides.
	if days > 0 && !policy.NeedsAlert(days, thresholds, lastPoint) {
		return nil
	}

	hash := policy.DedupeHashDay(m.ID, string(db.IncidentAnomaly)+":"+string(kind), expiresAt)
	existing, err := c.store.ActiveIncidentByHash(m.ID, hash)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	inc := &db.Incident{
		ID:         uuid.New().String(),
		MonitorID:  m.ID,
		OrgID:      m.OrgID,
		Kind:       db.IncidentAnomaly,
		Severity:   expirySeverity(days),
		Status:     db.IncidentOpen,
		Summary:    expirySummary(m, kind, days),
		Details:    fmt.Sprintf("%s for %s expires at %s.", expiryNoun(kind), m.Target, expiresAt.UTC().Format(time.RFC3339)),
		DedupeHash: hash,
		OpenedAt:   now,
	}

	if err := c.store.CreateIncident(inc); err != nil {
		if errors.Is(err, db.ErrIncidentExists) {
			return nil
		}
		return err
	}
	c.metrics.RecordIncidentOpened(inc)

	c.logger.Info("opened expiry incident",
		zap.String("monitor_id", m.ID),
		zap.String("kind", string(kind)),
		zap.Int("days_until_expiry", days),
	)

	if err := c.queue.Push(ctx, queue.DispatchQueue, &queue.Job{
		ID:         uuid.New().String(),
		IncidentID: inc.ID,
		Action:     "opened",
		CreatedAt:  now,
	}, 0); err != nil {
		return err
	}

	return c.store.UpdateMonitorAlertPoint(m.ID, kind, &days)
}

func expirySeverity(days int) db.Severity {
	switch {
	case days <= 0:
		return db.SeverityCritical
	case days <= 7:
		return db.SeverityHigh
	default:
		return db.SeverityMedium
	}
}

func expiryNoun(kind db.ExpiryKind) string {
	if kind == db.ExpiryDomain {
		return "Domain registration"
	}
	return "TLS certificate"
}

func expirySummary(m *db.Monitor, kind db.ExpiryKind, days int) string {
	if days <= 0 {
		return fmt.Sprintf("%s for %s has expired", expiryNoun(kind), m.Target)
	}
	return fmt.Sprintf("%s for %s expires in %d days", expiryNoun(kind), m.Target, days)
}
