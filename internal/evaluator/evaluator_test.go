package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/queue"
	"go.uber.org/zap"
)

// promauto registers on the default registerer, so the package shares one
// collector across tests.
var testMetrics = metrics.NewCollector(config.RemoteWriteConfig{BatchSize: 100, FlushInterval: time.Second})

// ---- fakes ----

type fakeStore struct {
	monitors  []*db.Monitor
	statuses  map[string]db.MonitorStatus
	nextDues  map[string]time.Time
	runs      []*db.Run
	reported  map[string]*db.Run
	incidents []*db.Incident
	deps      map[string][]*db.MonitorDependency
	upstream  map[string]bool
	resolved  []string

	expiryRecords []*db.ExpiryRecord
	alertPoints   map[string]*int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:    map[string]db.MonitorStatus{},
		nextDues:    map[string]time.Time{},
		reported:    map[string]*db.Run{},
		deps:        map[string][]*db.MonitorDependency{},
		upstream:    map[string]bool{},
		alertPoints: map[string]*int{},
	}
}

func (f *fakeStore) DueMonitors(now time.Time) ([]*db.Monitor, error) { return f.monitors, nil }

func (f *fakeStore) UpdateMonitorStatus(id string, status db.MonitorStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) UpdateMonitorNextDue(id string, nextDueAt time.Time) error {
	f.nextDues[id] = nextDueAt
	return nil
}

func (f *fakeStore) CreateRun(run *db.Run) error {
	for _, r := range f.runs {
		if r.MonitorID == run.MonitorID && r.StartedAt.Equal(run.StartedAt) {
			return nil // uniqueness guard
		}
	}
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) ReportedRunSince(monitorID string, since time.Time) (*db.Run, error) {
	run := f.reported[monitorID]
	if run == nil || run.StartedAt.Before(since) {
		return nil, nil
	}
	return run, nil
}

func (f *fakeStore) ActiveIncidentByHash(monitorID, dedupeHash string) (*db.Incident, error) {
	for _, inc := range f.incidents {
		if inc.MonitorID == monitorID && inc.DedupeHash == dedupeHash &&
			(inc.Status == db.IncidentOpen || inc.Status == db.IncidentAcked) {
			return inc, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ActiveIncidentByKind(monitorID string, kind db.IncidentKind) (*db.Incident, error) {
	for _, inc := range f.incidents {
		if inc.MonitorID == monitorID && inc.Kind == kind &&
			(inc.Status == db.IncidentOpen || inc.Status == db.IncidentAcked) {
			return inc, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateIncident(inc *db.Incident) error {
	for _, existing := range f.incidents {
		if existing.MonitorID == inc.MonitorID && existing.DedupeHash == inc.DedupeHash &&
			(existing.Status == db.IncidentOpen || existing.Status == db.IncidentAcked) {
			return db.ErrIncidentExists
		}
	}
	f.incidents = append(f.incidents, inc)
	return nil
}

func (f *fakeStore) ResolveIncident(id string, resolvedAt time.Time) error {
	for _, inc := range f.incidents {
		if inc.ID == id {
			inc.Status = db.IncidentResolved
			inc.ResolvedAt = &resolvedAt
		}
	}
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakeStore) RequiredDependencies(monitorID string) ([]*db.MonitorDependency, error) {
	return f.deps[monitorID], nil
}

func (f *fakeStore) HasActiveUpstreamIncident(monitorID string, since time.Time) (bool, error) {
	return f.upstream[monitorID], nil
}

func (f *fakeStore) ExpiryMonitors() ([]*db.Monitor, error) { return f.monitors, nil }

func (f *fakeStore) LatestExpiryRecord(monitorID string, kind db.ExpiryKind) (*db.ExpiryRecord, error) {
	for i := len(f.expiryRecords) - 1; i >= 0; i-- {
		rec := f.expiryRecords[i]
		if rec.MonitorID == monitorID && rec.Kind == kind {
			return rec, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateExpiryRecord(rec *db.ExpiryRecord) error {
	f.expiryRecords = append(f.expiryRecords, rec)
	return nil
}

func (f *fakeStore) UpdateMonitorAlertPoint(id string, kind db.ExpiryKind, days *int) error {
	f.alertPoints[id+":"+string(kind)] = days
	return nil
}

type fakeQueue struct {
	jobs map[string][]*queue.Job
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string][]*queue.Job{}}
}

func (f *fakeQueue) Push(ctx context.Context, queueName string, job *queue.Job, delay time.Duration) error {
	f.jobs[queueName] = append(f.jobs[queueName], job)
	return nil
}

// ---- helpers ----

func monitorDueAgo(id string, ago time.Duration, graceSec int, now time.Time) *db.Monitor {
	due := now.Add(-ago)
	return &db.Monitor{
		ID:           id,
		OrgID:        "org-1",
		Name:         "nightly-backup",
		Status:       db.MonitorOK,
		ScheduleType: db.ScheduleInterval,
		IntervalSec:  3600,
		GraceSec:     graceSec,
		NextDueAt:    &due,
	}
}

func newService(store *fakeStore, q *fakeQueue, now time.Time) *Service {
	svc := NewService(store, q, zap.NewNop(), testMetrics)
	svc.now = func() time.Time { return now }
	return svc
}

// ---- tests ----

func TestEvaluateGraceBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 290s overdue with a 300s grace: merely late.
	store := newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("m1", 290*time.Second, 300, now)}
	q := newFakeQueue()
	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.statuses["m1"] != db.MonitorLate {
		t.Fatalf("expected late, got %s", store.statuses["m1"])
	}
	if len(store.incidents) != 0 {
		t.Fatalf("late monitor must not open an incident, got %d", len(store.incidents))
	}

	// 310s overdue: missed.
	store = newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("m1", 310*time.Second, 300, now)}
	q = newFakeQueue()
	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.statuses["m1"] != db.MonitorMissed {
		t.Fatalf("expected missed, got %s", store.statuses["m1"])
	}
	if len(store.incidents) != 1 {
		t.Fatalf("expected one incident, got %d", len(store.incidents))
	}
	inc := store.incidents[0]
	if inc.Kind != db.IncidentMissed || inc.Severity != db.SeverityHigh {
		t.Fatalf("unexpected incident %+v", inc)
	}
	if len(q.jobs[queue.DispatchQueue]) != 1 {
		t.Fatalf("expected one dispatch job, got %d", len(q.jobs[queue.DispatchQueue]))
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("m1", 20*time.Minute, 300, now)}
	q := newFakeQueue()
	svc := newService(store, q, now)

	if err := svc.EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.incidents) != 1 {
		t.Fatalf("two passes over the same miss must produce one incident, got %d", len(store.incidents))
	}
	if len(store.runs) != 1 {
		t.Fatalf("duplicate run rows must be absorbed, got %d", len(store.runs))
	}
}

func TestEvaluateCascadeSuppression(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("B", 20*time.Minute, 300, now)}
	store.deps["B"] = []*db.MonitorDependency{{MonitorID: "B", DependsOnID: "A", Required: true}}
	store.upstream["A"] = true
	q := newFakeQueue()

	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.incidents) != 1 {
		t.Fatalf("expected one incident, got %d", len(store.incidents))
	}
	inc := store.incidents[0]
	if inc.Severity != db.SeverityMedium {
		t.Fatalf("cascaded incident must be medium severity, got %s", inc.Severity)
	}
	if inc.CascadeOf == nil || *inc.CascadeOf != "A" {
		t.Fatalf("expected cascade cause A, got %v", inc.CascadeOf)
	}
	if len(q.jobs[queue.DispatchQueue]) != 0 {
		t.Fatal("cascaded incident must not enqueue dispatch")
	}
}

func TestEvaluateNoCascadeWithoutRequiredEdge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("B", 20*time.Minute, 300, now)}
	// No dependency edges: the upstream map is irrelevant.
	store.upstream["A"] = true
	q := newFakeQueue()

	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if store.incidents[0].Severity != db.SeverityHigh {
		t.Fatalf("expected high severity, got %s", store.incidents[0].Severity)
	}
	if len(q.jobs[queue.DispatchQueue]) != 1 {
		t.Fatal("expected a dispatch job")
	}
}

func TestEvaluateReportedRunSkipsIncident(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	m := monitorDueAgo("m1", 20*time.Minute, 300, now)
	store.monitors = []*db.Monitor{m}
	store.reported["m1"] = &db.Run{
		ID:        "r1",
		MonitorID: "m1",
		StartedAt: now.Add(-10 * time.Minute),
		Outcome:   db.RunSuccess,
	}
	q := newFakeQueue()

	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if store.statuses["m1"] != db.MonitorOK {
		t.Fatalf("expected ok, got %s", store.statuses["m1"])
	}
	if len(store.incidents) != 0 {
		t.Fatal("reported run must not open an incident")
	}
}

func TestEvaluateRecoveryResolvesIncident(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	m := monitorDueAgo("m1", 20*time.Minute, 300, now)
	store.monitors = []*db.Monitor{m}
	store.incidents = []*db.Incident{{
		ID:        "inc-1",
		MonitorID: "m1",
		OrgID:     "org-1",
		Kind:      db.IncidentMissed,
		Status:    db.IncidentOpen,
		OpenedAt:  now.Add(-time.Hour),
	}}
	store.reported["m1"] = &db.Run{
		ID:        "r1",
		MonitorID: "m1",
		StartedAt: now.Add(-5 * time.Minute),
		Outcome:   db.RunSuccess,
	}
	q := newFakeQueue()

	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.resolved) != 1 || store.resolved[0] != "inc-1" {
		t.Fatalf("expected incident resolved, got %v", store.resolved)
	}
	jobs := q.jobs[queue.DispatchQueue]
	if len(jobs) != 1 || jobs[0].Action != "resolved" {
		t.Fatalf("expected one resolved dispatch, got %v", jobs)
	}
}

func TestEvaluateFailedRunSetsFailing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("m1", 20*time.Minute, 300, now)}
	store.reported["m1"] = &db.Run{
		ID:        "r1",
		MonitorID: "m1",
		StartedAt: now.Add(-10 * time.Minute),
		Outcome:   db.RunFail,
	}

	if err := newService(store, newFakeQueue(), now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.statuses["m1"] != db.MonitorFailing {
		t.Fatalf("expected failing, got %s", store.statuses["m1"])
	}
}

func TestEvaluateAdvancesIntervalSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.monitors = []*db.Monitor{monitorDueAgo("m1", 2*time.Hour, 300, now)}
	q := newFakeQueue()

	if err := newService(store, q, now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	next, ok := store.nextDues["m1"]
	if !ok {
		t.Fatal("expected next due to advance")
	}
	if !next.After(now) {
		t.Fatalf("next due %v must be in the future", next)
	}
	if next.Sub(now) > time.Hour {
		t.Fatalf("next due %v overshot the interval", next)
	}
}

func TestEvaluateMissedRunRowShape(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	m := monitorDueAgo("m1", 20*time.Minute, 300, now)
	due := *m.NextDueAt
	store.monitors = []*db.Monitor{m}

	if err := newService(store, newFakeQueue(), now).EvaluatePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.runs) != 1 {
		t.Fatalf("expected one synthetic run, got %d", len(store.runs))
	}
	run := store.runs[0]
	if run.Outcome != db.RunMissed {
		t.Fatalf("expected missed outcome, got %s", run.Outcome)
	}
	if !run.StartedAt.Equal(due) {
		t.Fatalf("synthetic run must start at the expected run time, got %v", run.StartedAt)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(now) {
		t.Fatalf("synthetic run must finish at evaluation time, got %v", run.FinishedAt)
	}
}
