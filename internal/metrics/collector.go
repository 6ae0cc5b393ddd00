package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
)

type Collector struct {
	config *config.RemoteWriteConfig

	// Evaluator metrics
	evaluatorPasses   *prometheus.CounterVec
	evaluatorDuration prometheus.Histogram
	monitorsEvaluated prometheus.Counter
	monitorStatus     *prometheus.GaugeVec

	// Incident metrics
	incidentsOpened    *prometheus.CounterVec
	incidentsResolved  *prometheus.CounterVec
	cascadesSuppressed *prometheus.CounterVec

	// Dispatch metrics
	alertsSent        *prometheus.CounterVec
	alertsFailed      *prometheus.CounterVec
	alertsSuppressed  *prometheus.CounterVec
	deliveriesRetried *prometheus.CounterVec
	deliveryLatency   *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
	smsRateLimited    *prometheus.CounterVec

	// Expiry metrics
	sslDaysUntilExpiry    *prometheus.GaugeVec
	domainDaysUntilExpiry *prometheus.GaugeVec
}

func NewCollector(cfg config.RemoteWriteConfig) *Collector {
	return &Collector{
		config: &cfg,

		evaluatorPasses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_evaluator_passes_total",
				Help: "Total evaluator sweeps, by result",
			},
			[]string{"result"},
		),

		evaluatorDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsewatch_evaluator_pass_duration_seconds",
				Help:    "Duration of a full evaluator sweep in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		monitorsEvaluated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsewatch_monitors_evaluated_total",
				Help: "Total overdue monitors examined by the evaluator",
			},
		),

		monitorStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsewatch_monitor_status",
				Help: "Last status the evaluator assigned to a monitor (1 = current)",
			},
			[]string{"org_id", "monitor_id", "monitor_name", "status"},
		),

		incidentsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_incidents_opened_total",
				Help: "Incidents opened, by kind and severity",
			},
			[]string{"org_id", "kind", "severity"},
		),

		incidentsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_incidents_resolved_total",
				Help: "Incidents auto-resolved by the evaluator",
			},
			[]string{"org_id", "kind"},
		),

		cascadesSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_cascades_suppressed_total",
				Help: "Incidents opened without dispatch because an upstream dependency already alerted",
			},
			[]string{"org_id"},
		),

		alertsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_alerts_sent_total",
				Help: "Deliveries that reached the vendor, by channel type",
			},
			[]string{"org_id", "channel_type"},
		),

		alertsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_alerts_failed_total",
				Help: "Deliveries that permanently failed, by channel type",
			},
			[]string{"org_id", "channel_type"},
		),

		alertsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_alerts_suppressed_total",
				Help: "Dispatches skipped by snooze or cooldown",
			},
			[]string{"org_id", "reason"},
		),

		deliveriesRetried: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_deliveries_retried_total",
				Help: "Delivery attempts re-enqueued with backoff",
			},
			[]string{"channel_type"},
		),

		deliveryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsewatch_delivery_latency_seconds",
				Help:    "Vendor call latency per delivery",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel_type"},
		),

		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsewatch_queue_depth",
				Help: "Jobs waiting per queue",
			},
			[]string{"queue"},
		),

		smsRateLimited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsewatch_sms_rate_limited_total",
				Help: "SMS deliveries dropped by the per-org hourly limit",
			},
			[]string{"org_id"},
		),

		sslDaysUntilExpiry: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsewatch_ssl_cert_days_until_expiry",
				Help: "Days until the monitored certificate expires",
			},
			[]string{"org_id", "monitor_id", "monitor_name", "target"},
		),

		domainDaysUntilExpiry: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsewatch_domain_days_until_expiry",
				Help: "Days until the monitored domain registration expires",
			},
			[]string{"org_id", "monitor_id", "monitor_name", "target"},
		),
	}
}

func (c *Collector) RecordPass(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.evaluatorPasses.WithLabelValues(result).Inc()
	c.evaluatorDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordMonitorStatus(m *db.Monitor, status db.MonitorStatus) {
	c.monitorsEvaluated.Inc()
	for _, s := range []db.MonitorStatus{db.MonitorOK, db.MonitorLate, db.MonitorMissed, db.MonitorFailing} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		c.monitorStatus.WithLabelValues(m.OrgID, m.ID, m.Name, string(s)).Set(v)
	}
}

func (c *Collector) RecordIncidentOpened(inc *db.Incident) {
	c.incidentsOpened.WithLabelValues(inc.OrgID, string(inc.Kind), string(inc.Severity)).Inc()
	if inc.CascadeOf != nil {
		c.cascadesSuppressed.WithLabelValues(inc.OrgID).Inc()
	}
}

func (c *Collector) RecordIncidentResolved(inc *db.Incident) {
	c.incidentsResolved.WithLabelValues(inc.OrgID, string(inc.Kind)).Inc()
}

func (c *Collector) RecordDelivery(orgID, channelType string, success bool, latency time.Duration) {
	if success {
		c.alertsSent.WithLabelValues(orgID, channelType).Inc()
	} else {
		c.alertsFailed.WithLabelValues(orgID, channelType).Inc()
	}
	c.deliveryLatency.WithLabelValues(channelType).Observe(latency.Seconds())
}

func (c *Collector) RecordSuppressed(orgID, reason string) {
	c.alertsSuppressed.WithLabelValues(orgID, reason).Inc()
}

func (c *Collector) RecordRetry(channelType string) {
	c.deliveriesRetried.WithLabelValues(channelType).Inc()
}

func (c *Collector) RecordQueueDepth(queueName string, depth int64) {
	c.queueDepth.WithLabelValues(queueName).Set(float64(depth))
}

func (c *Collector) RecordSMSRateLimited(orgID string) {
	c.smsRateLimited.WithLabelValues(orgID).Inc()
}

func (c *Collector) RecordExpiry(m *db.Monitor, kind db.ExpiryKind, days int) {
	switch kind {
	case db.ExpirySSL:
		c.sslDaysUntilExpiry.WithLabelValues(m.OrgID, m.ID, m.Name, m.Target).Set(float64(days))
	case db.ExpiryDomain:
		c.domainDaysUntilExpiry.WithLabelValues(m.OrgID, m.ID, m.Name, m.Target).Set(float64(days))
	}
}
