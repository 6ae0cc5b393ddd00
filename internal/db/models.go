package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type MonitorStatus string

const (
	MonitorOK       MonitorStatus = "ok"
	MonitorLate     MonitorStatus = "late"
	MonitorMissed   MonitorStatus = "missed"
	MonitorFailing  MonitorStatus = "failing"
	MonitorDisabled MonitorStatus = "disabled"
)

type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

type Monitor struct {
	ID               string        `json:"id" db:"id"`
	OrgID            string        `json:"-" db:"org_id"`
	Name             string        `json:"name" db:"name"`
	Status           MonitorStatus `json:"status" db:"status"`
	ScheduleType     ScheduleType  `json:"schedule_type" db:"schedule_type"`
	IntervalSec      int           `json:"interval_sec" db:"interval_sec"`
	CronExpr         string        `json:"cron_expr" db:"cron_expr"`
	Timezone         string        `json:"timezone" db:"timezone"`
	GraceSec         int           `json:"grace_sec" db:"grace_sec"`
	NextDueAt        *time.Time    `json:"next_due_at" db:"next_due_at"`
	LastRunAt        *time.Time    `json:"last_run_at" db:"last_run_at"`
	LastDurationMs   *int          `json:"last_duration_ms" db:"last_duration_ms"`
	LastExitCode     *int          `json:"last_exit_code" db:"last_exit_code"`
	Target           string        `json:"target" db:"target"`
	CheckSSL         bool          `json:"check_ssl" db:"check_ssl"`
	CheckDomain      bool          `json:"check_domain" db:"check_domain"`
	SSLThresholds    IntSlice      `json:"ssl_thresholds" db:"ssl_thresholds"`
	DomainThresholds IntSlice      `json:"domain_thresholds" db:"domain_thresholds"`
	SSLAlertPoint    *int          `json:"ssl_alert_point" db:"ssl_alert_point"`
	DomainAlertPoint *int          `json:"domain_alert_point" db:"domain_alert_point"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// MonitorDependency is a directed edge: MonitorID depends on DependsOnID.
// Self-loops are rejected at write time by the dashboard, never created here.
type MonitorDependency struct {
	MonitorID   string `json:"monitor_id" db:"monitor_id"`
	DependsOnID string `json:"depends_on_id" db:"depends_on_id"`
	Required    bool   `json:"required" db:"required"`
}

type RunOutcome string

const (
	RunStarted RunOutcome = "started"
	RunSuccess RunOutcome = "success"
	RunFail    RunOutcome = "fail"
	RunTimeout RunOutcome = "timeout"
	RunLate    RunOutcome = "late"
	RunMissed  RunOutcome = "missed"
)

type Run struct {
	ID         string     `json:"id" db:"id"`
	MonitorID  string     `json:"monitor_id" db:"monitor_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Outcome    RunOutcome `json:"outcome" db:"outcome"`
	DurationMs *int       `json:"duration_ms" db:"duration_ms"`
	ExitCode   *int       `json:"exit_code" db:"exit_code"`
}

type IncidentKind string

const (
	IncidentMissed  IncidentKind = "missed"
	IncidentLate    IncidentKind = "late"
	IncidentFail    IncidentKind = "fail"
	IncidentAnomaly IncidentKind = "anomaly"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentAcked    IncidentStatus = "acked"
	IncidentResolved IncidentStatus = "resolved"
)

type Incident struct {
	ID             string         `json:"id" db:"id"`
	MonitorID      string         `json:"monitor_id" db:"monitor_id"`
	OrgID          string         `json:"-" db:"org_id"`
	Kind           IncidentKind   `json:"kind" db:"kind"`
	Severity       Severity       `json:"severity" db:"severity"`
	Status         IncidentStatus `json:"status" db:"status"`
	Summary        string         `json:"summary" db:"summary"`
	Details        string         `json:"details" db:"details"`
	DedupeHash     string         `json:"dedupe_hash" db:"dedupe_hash"`
	CascadeOf      *string        `json:"cascade_of" db:"cascade_of"`
	OpenedAt       time.Time      `json:"opened_at" db:"opened_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at" db:"acknowledged_at"`
	ResolvedAt     *time.Time     `json:"resolved_at" db:"resolved_at"`
	SuppressUntil  *time.Time     `json:"suppress_until" db:"suppress_until"`
	LastAlertedAt  *time.Time     `json:"last_alerted_at" db:"last_alerted_at"`
	SlackChannel   *string        `json:"-" db:"slack_channel"`
	SlackMessageTS *string        `json:"-" db:"slack_message_ts"`
}

// Rule maps monitors to alert channels. An empty MonitorIDs list applies the
// rule to every monitor in the org.
type Rule struct {
	ID              string      `json:"id" db:"id"`
	OrgID           string      `json:"-" db:"org_id"`
	Name            string      `json:"name" db:"name"`
	MonitorIDs      StringSlice `json:"monitor_ids" db:"monitor_ids"`
	ChannelIDs      StringSlice `json:"channel_ids" db:"channel_ids"`
	SuppressMinutes int         `json:"suppress_minutes" db:"suppress_minutes"`
}

type ChannelType string

const (
	ChannelEmail     ChannelType = "email"
	ChannelSlack     ChannelType = "slack"
	ChannelDiscord   ChannelType = "discord"
	ChannelWebhook   ChannelType = "webhook"
	ChannelPagerDuty ChannelType = "pagerduty"
	ChannelTeams     ChannelType = "teams"
	ChannelSMS       ChannelType = "sms"
)

type AlertChannel struct {
	ID     string      `json:"id" db:"id"`
	OrgID  string      `json:"-" db:"org_id"`
	Name   string      `json:"name" db:"name"`
	Type   ChannelType `json:"type" db:"type"`
	Config JSONB       `json:"config" db:"config"`
}

type Org struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type ExpiryKind string

const (
	ExpirySSL    ExpiryKind = "ssl"
	ExpiryDomain ExpiryKind = "domain"
)

type ExpiryRecord struct {
	ID              string     `json:"id" db:"id"`
	MonitorID       string     `json:"monitor_id" db:"monitor_id"`
	Kind            ExpiryKind `json:"kind" db:"kind"`
	Domain          string     `json:"domain" db:"domain"`
	ExpiresAt       time.Time  `json:"expires_at" db:"expires_at"`
	DaysUntilExpiry int        `json:"days_until_expiry" db:"days_until_expiry"`
	LastCheckedAt   time.Time  `json:"last_checked_at" db:"last_checked_at"`
}

// Custom types for PostgreSQL JSONB columns

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

type IntSlice []int

func (s IntSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *IntSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []int{}
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	return json.Unmarshal(value.([]byte), j)
}

// String reads a string key out of a channel config blob.
func (j JSONB) String(key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}

// Strings reads a list of strings out of a channel config blob.
func (j JSONB) Strings(key string) []string {
	raw, ok := j[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
