package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrIncidentExists is returned when the (monitor_id, dedupe_hash) dedup
// constraint rejects an insert. Callers treat it as "already handled".
var ErrIncidentExists = errors.New("incident already exists")

// ErrNotFound wraps row lookups that came back empty. Consumers use it to
// separate "this row does not exist" (terminal) from transient store errors
// (retryable).
var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Monitor operations

func (r *Repository) GetMonitorByID(id string) (*Monitor, error) {
	var m Monitor
	err := r.db.Get(&m, `SELECT * FROM monitors WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("monitor %s: %w", id, ErrNotFound)
	}
	return &m, err
}

// DueMonitors returns every enabled monitor whose expected run time has
// already passed.
func (r *Repository) DueMonitors(now time.Time) ([]*Monitor, error) {
	monitors := []*Monitor{}
	query := `
		SELECT * FROM monitors
		WHERE status != $1
		AND next_due_at IS NOT NULL
		AND next_due_at < $2
		ORDER BY next_due_at ASC`

	err := r.db.Select(&monitors, query, MonitorDisabled, now)
	return monitors, err
}

// ExpiryMonitors returns monitors with certificate or domain expiry checks
// enabled.
func (r *Repository) ExpiryMonitors() ([]*Monitor, error) {
	monitors := []*Monitor{}
	query := `
		SELECT * FROM monitors
		WHERE status != $1
		AND (check_ssl = true OR check_domain = true)`

	err := r.db.Select(&monitors, query, MonitorDisabled)
	return monitors, err
}

func (r *Repository) UpdateMonitorStatus(id string, status MonitorStatus) error {
	_, err := r.db.Exec(
		`UPDATE monitors SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id,
	)
	return err
}

func (r *Repository) UpdateMonitorNextDue(id string, nextDueAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE monitors SET next_due_at = $1, updated_at = NOW() WHERE id = $2`,
		nextDueAt, id,
	)
	return err
}

// UpdateMonitorAlertPoint records the days-until-expiry value the monitor was
// last alerted at, so the threshold policy fires once per crossing. A nil
// value clears the point, re-arming every threshold after a renewal.
func (r *Repository) UpdateMonitorAlertPoint(id string, kind ExpiryKind, days *int) error {
	column := "ssl_alert_point"
	if kind == ExpiryDomain {
		column = "domain_alert_point"
	}
	query := fmt.Sprintf(`UPDATE monitors SET %s = $1, updated_at = NOW() WHERE id = $2`, column)
	_, err := r.db.Exec(query, days, id)
	return err
}

// Run operations

// CreateRun inserts a run row. Duplicate (monitor_id, started_at) pairs from
// retried evaluator passes are dropped by the uniqueness guard.
func (r *Repository) CreateRun(run *Run) error {
	query := `
		INSERT INTO runs (id, monitor_id, started_at, finished_at, outcome, duration_ms, exit_code)
		VALUES (:id, :monitor_id, :started_at, :finished_at, :outcome, :duration_ms, :exit_code)
		ON CONFLICT (monitor_id, started_at) DO NOTHING`

	_, err := r.db.NamedExec(query, run)
	return err
}

// ReportedRunSince returns the most recent run that actually reported in
// (success, fail or late) at or after the given expected run time.
func (r *Repository) ReportedRunSince(monitorID string, since time.Time) (*Run, error) {
	var run Run
	query := `
		SELECT * FROM runs
		WHERE monitor_id = $1
		AND started_at >= $2
		AND outcome IN ($3, $4, $5)
		ORDER BY started_at DESC
		LIMIT 1`

	err := r.db.Get(&run, query, monitorID, since, RunSuccess, RunFail, RunLate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Repository) RecentRuns(monitorID string, limit int) ([]*Run, error) {
	runs := []*Run{}
	query := `
		SELECT * FROM runs
		WHERE monitor_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	err := r.db.Select(&runs, query, monitorID, limit)
	return runs, err
}

// Incident operations

func (r *Repository) GetIncident(id string) (*Incident, error) {
	var inc Incident
	err := r.db.Get(&inc, `SELECT * FROM incidents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return &inc, err
}

// ActiveIncidentByHash finds an open or acked incident carrying the given
// dedupe hash. This is the lookup side of the dedup contract.
func (r *Repository) ActiveIncidentByHash(monitorID, dedupeHash string) (*Incident, error) {
	var inc Incident
	query := `
		SELECT * FROM incidents
		WHERE monitor_id = $1 AND dedupe_hash = $2
		AND status IN ($3, $4)
		LIMIT 1`

	err := r.db.Get(&inc, query, monitorID, dedupeHash, IncidentOpen, IncidentAcked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (r *Repository) ActiveIncidentByKind(monitorID string, kind IncidentKind) (*Incident, error) {
	var inc Incident
	query := `
		SELECT * FROM incidents
		WHERE monitor_id = $1 AND kind = $2
		AND status IN ($3, $4)
		ORDER BY opened_at DESC
		LIMIT 1`

	err := r.db.Get(&inc, query, monitorID, kind, IncidentOpen, IncidentAcked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// CreateIncident inserts a new incident. A partial unique index on
// (monitor_id, dedupe_hash) WHERE status IN ('open','acked') closes the
// check-then-insert race between concurrent evaluator passes; a constraint
// violation comes back as ErrIncidentExists.
func (r *Repository) CreateIncident(inc *Incident) error {
	query := `
		INSERT INTO incidents (
			id, monitor_id, org_id, kind, severity, status, summary, details,
			dedupe_hash, cascade_of, opened_at, suppress_until, last_alerted_at
		) VALUES (
			:id, :monitor_id, :org_id, :kind, :severity, :status, :summary, :details,
			:dedupe_hash, :cascade_of, :opened_at, :suppress_until, :last_alerted_at
		)`

	_, err := r.db.NamedExec(query, inc)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrIncidentExists
	}
	return err
}

func (r *Repository) ResolveIncident(id string, resolvedAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE incidents SET status = $1, resolved_at = $2 WHERE id = $3`,
		IncidentResolved, resolvedAt, id,
	)
	return err
}

func (r *Repository) UpdateIncidentLastAlerted(id string, at time.Time) error {
	_, err := r.db.Exec(
		`UPDATE incidents SET last_alerted_at = $1 WHERE id = $2`, at, id,
	)
	return err
}

// UpdateIncidentSlackMessage stores the Slack message coordinates so ack and
// resolve updates can edit the original message.
func (r *Repository) UpdateIncidentSlackMessage(id, channel, messageTS string) error {
	_, err := r.db.Exec(
		`UPDATE incidents SET slack_channel = $1, slack_message_ts = $2 WHERE id = $3`,
		channel, messageTS, id,
	)
	return err
}

// HasActiveUpstreamIncident reports whether the depended-on monitor has a
// non-anomaly incident opened at or after the given time that is still open
// or acked. Feeds the cascade-suppression decision.
func (r *Repository) HasActiveUpstreamIncident(monitorID string, since time.Time) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM incidents
		WHERE monitor_id = $1
		AND kind != $2
		AND status IN ($3, $4)
		AND opened_at >= $5`

	err := r.db.Get(&count, query, monitorID, IncidentAnomaly, IncidentOpen, IncidentAcked, since)
	return count > 0, err
}

// Dependency / rule / channel lookups (read-only inputs)

func (r *Repository) RequiredDependencies(monitorID string) ([]*MonitorDependency, error) {
	deps := []*MonitorDependency{}
	query := `
		SELECT * FROM monitor_dependencies
		WHERE monitor_id = $1 AND required = true`

	err := r.db.Select(&deps, query, monitorID)
	return deps, err
}

func (r *Repository) RulesForOrg(orgID string) ([]*Rule, error) {
	rules := []*Rule{}
	err := r.db.Select(&rules, `SELECT * FROM rules WHERE org_id = $1`, orgID)
	return rules, err
}

func (r *Repository) GetChannel(id string) (*AlertChannel, error) {
	var ch AlertChannel
	err := r.db.Get(&ch, `SELECT * FROM alert_channels WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return &ch, err
}

func (r *Repository) GetOrg(id string) (*Org, error) {
	var org Org
	err := r.db.Get(&org, `SELECT * FROM orgs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("org %s: %w", id, ErrNotFound)
	}
	return &org, err
}

// Expiry records

func (r *Repository) LatestExpiryRecord(monitorID string, kind ExpiryKind) (*ExpiryRecord, error) {
	var rec ExpiryRecord
	query := `
		SELECT * FROM expiry_records
		WHERE monitor_id = $1 AND kind = $2
		ORDER BY last_checked_at DESC
		LIMIT 1`

	err := r.db.Get(&rec, query, monitorID, kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) CreateExpiryRecord(rec *ExpiryRecord) error {
	query := `
		INSERT INTO expiry_records (id, monitor_id, kind, domain, expires_at, days_until_expiry, last_checked_at)
		VALUES (:id, :monitor_id, :kind, :domain, :expires_at, :days_until_expiry, :last_checked_at)`

	_, err := r.db.NamedExec(query, rec)
	return err
}
