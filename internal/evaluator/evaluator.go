// Package evaluator decides which monitors are overdue and materializes the
// resulting runs and incidents exactly once per missed occurrence.
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

// cascadeWindow bounds how old an upstream incident may be and still explain
// a dependent monitor's miss.
const cascadeWindow = time.Hour

type Store interface {
	DueMonitors(now time.Time) ([]*db.Monitor, error)
	UpdateMonitorStatus(id string, status db.MonitorStatus) error
	UpdateMonitorNextDue(id string, nextDueAt time.Time) error
	CreateRun(run *db.Run) error
	ReportedRunSince(monitorID string, since time.Time) (*db.Run, error)
	ActiveIncidentByHash(monitorID, dedupeHash string) (*db.Incident, error)
	ActiveIncidentByKind(monitorID string, kind db.IncidentKind) (*db.Incident, error)
	CreateIncident(inc *db.Incident) error
	ResolveIncident(id string, resolvedAt time.Time) error
	RequiredDependencies(monitorID string) ([]*db.MonitorDependency, error)
	HasActiveUpstreamIncident(monitorID string, since time.Time) (bool, error)
}

type Enqueuer interface {
	Push(ctx context.Context, queueName string, job *queue.Job, delay time.Duration) error
}

type Service struct {
	store   Store
	queue   Enqueuer
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewService(store Store, q Enqueuer, logger *zap.Logger, collector *metrics.Collector) *Service {
	return &Service{
		store:   store,
		queue:   q,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// EvaluatePass sweeps every overdue monitor once. Any store error aborts the
// pass; the caller's schedule retries it. Every step derives from current
// state, so a retried pass converges on the same incidents.
func (s *Service) EvaluatePass(ctx context.Context) error {
	start := s.now()
	err := s.evaluateAll(ctx)
	s.metrics.RecordPass(err, s.now().Sub(start))
	return err
}

func (s *Service) evaluateAll(ctx context.Context) error {
	monitors, err := s.store.DueMonitors(s.now())
	if err != nil {
		return fmt.Errorf("failed to load due monitors: %w", err)
	}

	for _, m := range monitors {
		if err := s.evaluateMonitor(ctx, m); err != nil {
			return fmt.Errorf("failed to evaluate monitor %s: %w", m.ID, err)
		}
	}
	return nil
}

func (s *Service) evaluateMonitor(ctx context.Context, m *db.Monitor) error {
	if m.NextDueAt == nil {
		return nil
	}
	due := *m.NextDueAt
	now := s.now()
	graceDeadline := due.Add(time.Duration(m.GraceSec) * time.Second)

	// Inside the grace period the monitor is merely late.
	if !now.After(graceDeadline) {
		if m.Status != db.MonitorLate {
			if err := s.store.UpdateMonitorStatus(m.ID, db.MonitorLate); err != nil {
				return err
			}
		}
		s.metrics.RecordMonitorStatus(m, db.MonitorLate)
		return nil
	}

	// Past grace: did the job eventually report in?
	run, err := s.store.ReportedRunSince(m.ID, due)
	if err != nil {
		return err
	}
	if run != nil {
		return s.handleReported(ctx, m, run, now)
	}

	return s.handleMissed(ctx, m, due, now)
}

func (s *Service) handleReported(ctx context.Context, m *db.Monitor, run *db.Run, now time.Time) error {
	status := db.MonitorOK
	if run.Outcome == db.RunFail {
		status = db.MonitorFailing
	}
	if err := s.store.UpdateMonitorStatus(m.ID, status); err != nil {
		return err
	}
	s.metrics.RecordMonitorStatus(m, status)

	// A successful report closes any open missed incident and notifies the
	// channels with a resolve update.
	if status == db.MonitorOK {
		inc, err := s.store.ActiveIncidentByKind(m.ID, db.IncidentMissed)
		if err != nil {
			return err
		}
		if inc != nil {
			if err := s.store.ResolveIncident(inc.ID, now); err != nil {
				return err
			}
			s.metrics.RecordIncidentResolved(inc)
			s.logger.Info("resolved missed incident on recovery",
				zap.String("monitor_id", m.ID),
				zap.String("incident_id", inc.ID),
			)
			if inc.CascadeOf == nil {
				if err := s.enqueueDispatch(ctx, inc.ID, "resolved"); err != nil {
					return err
				}
			}
		}
	}

	return s.advanceNextDue(m, now)
}

func (s *Service) handleMissed(ctx context.Context, m *db.Monitor, due, now time.Time) error {
	if err := s.store.UpdateMonitorStatus(m.ID, db.MonitorMissed); err != nil {
		return err
	}
	s.metrics.RecordMonitorStatus(m, db.MonitorMissed)

	// Synthetic run row for the audit trail. Insertion is at-least-once
	// across retried passes; the (monitor_id, started_at) guard absorbs
	// duplicates.
	finished := now
	if err := s.store.CreateRun(&db.Run{
		ID:         uuid.New().String(),
		MonitorID:  m.ID,
		StartedAt:  due,
		FinishedAt: &finished,
		Outcome:    db.RunMissed,
	}); err != nil {
		return err
	}

	hash := policy.DedupeHash(m.ID, string(db.IncidentMissed), due)

	existing, err := s.store.ActiveIncidentByHash(m.ID, hash)
	if err != nil {
		return err
	}
	if existing != nil {
		// Already handled this occurrence; the router's cooldown decides
		// whether a repeat dispatch actually goes out.
		if existing.CascadeOf == nil {
			if err := s.enqueueDispatch(ctx, existing.ID, "opened"); err != nil {
				return err
			}
		}
		return s.advanceNextDue(m, now)
	}

	cascadeOf, err := s.findCascadeCause(m, now)
	if err != nil {
		return err
	}

	inc := &db.Incident{
		ID:         uuid.New().String(),
		MonitorID:  m.ID,
		OrgID:      m.OrgID,
		Kind:       db.IncidentMissed,
		Severity:   db.SeverityHigh,
		Status:     db.IncidentOpen,
		Summary:    fmt.Sprintf("Monitor %q missed its scheduled run", m.Name),
		Details:    fmt.Sprintf("Expected run at %s was not reported within the %ds grace period.", due.UTC().Format(time.RFC3339), m.GraceSec),
		DedupeHash: hash,
		OpenedAt:   now,
	}
	if cascadeOf != nil {
		inc.Severity = db.SeverityMedium
		inc.CascadeOf = cascadeOf
		inc.Summary = fmt.Sprintf("Monitor %q missed its scheduled run (likely caused by upstream monitor %s)", m.Name, *cascadeOf)
		inc.Details += fmt.Sprintf(" Upstream dependency %s has an active incident; this miss is treated as a downstream effect.", *cascadeOf)
	}

	if err := s.store.CreateIncident(inc); err != nil {
		if errors.Is(err, db.ErrIncidentExists) {
			// A concurrent pass won the insert race.
			return s.advanceNextDue(m, now)
		}
		return err
	}
	s.metrics.RecordIncidentOpened(inc)

	s.logger.Info("opened missed incident",
		zap.String("monitor_id", m.ID),
		zap.String("incident_id", inc.ID),
		zap.String("severity", string(inc.Severity)),
		zap.Bool("cascade", cascadeOf != nil),
	)

	// A cascaded miss stays quiet: the upstream incident already paged.
	if cascadeOf == nil {
		if err := s.enqueueDispatch(ctx, inc.ID, "opened"); err != nil {
			return err
		}
	}

	return s.advanceNextDue(m, now)
}

// findCascadeCause returns the id of a required upstream monitor whose own
// recent incident explains this miss, or nil.
func (s *Service) findCascadeCause(m *db.Monitor, now time.Time) (*string, error) {
	deps, err := s.store.RequiredDependencies(m.ID)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		active, err := s.store.HasActiveUpstreamIncident(dep.DependsOnID, now.Add(-cascadeWindow))
		if err != nil {
			return nil, err
		}
		if active {
			id := dep.DependsOnID
			return &id, nil
		}
	}
	return nil, nil
}

// advanceNextDue moves interval schedules to their next future occurrence.
// Cron schedules are recomputed by ping ingestion, which owns cron parsing.
func (s *Service) advanceNextDue(m *db.Monitor, now time.Time) error {
	if m.ScheduleType != db.ScheduleInterval || m.IntervalSec <= 0 || m.NextDueAt == nil {
		return nil
	}
	next := *m.NextDueAt
	step := time.Duration(m.IntervalSec) * time.Second
	for !next.After(now) {
		next = next.Add(step)
	}
	return s.store.UpdateMonitorNextDue(m.ID, next)
}

func (s *Service) enqueueDispatch(ctx context.Context, incidentID, action string) error {
	return s.queue.Push(ctx, queue.DispatchQueue, &queue.Job{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		Action:     action,
		CreatedAt:  s.now(),
	}, 0)
}
