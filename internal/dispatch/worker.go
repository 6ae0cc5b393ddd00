// Package dispatch runs the queue consumers: a router pool draining the
// incident dispatch queue and one bounded worker pool per channel type
// draining its delivery queue.
package dispatch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/notify"
	"github.com/pulsewatch/pulsewatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const idlePoll = 500 * time.Millisecond

// runHistorySize is how many recent runs the chat-style messages include as
// the glyph sequence.
const runHistorySize = 10

type Store interface {
	GetIncident(id string) (*db.Incident, error)
	GetMonitorByID(id string) (*db.Monitor, error)
	GetOrg(id string) (*db.Org, error)
	GetChannel(id string) (*db.AlertChannel, error)
	RecentRuns(monitorID string, limit int) ([]*db.Run, error)
}

type Queue interface {
	Pop(ctx context.Context, queueName string) (*queue.Job, error)
	Push(ctx context.Context, queueName string, job *queue.Job, delay time.Duration) error
	Length(ctx context.Context, queueName string) (int64, error)
}

// DeliveryWorker consumes one channel type's delivery queue and hands jobs to
// its sender. Transient failures go back on the queue with exponential
// backoff; config errors are dropped as permanently failed.
type DeliveryWorker struct {
	id          int
	channelType db.ChannelType
	sender      notify.Sender
	store       Store
	queue       Queue
	limiter     *rate.Limiter
	cfg         config.DispatchConfig
	logger      *zap.Logger
	metrics     *metrics.Collector
}

func NewDeliveryWorker(
	id int,
	channelType db.ChannelType,
	sender notify.Sender,
	store Store,
	q Queue,
	limiter *rate.Limiter,
	cfg config.DispatchConfig,
	logger *zap.Logger,
	collector *metrics.Collector,
) *DeliveryWorker {
	return &DeliveryWorker{
		id:          id,
		channelType: channelType,
		sender:      sender,
		store:       store,
		queue:       q,
		limiter:     limiter,
		cfg:         cfg,
		logger:      logger.With(zap.Int("worker_id", id), zap.String("channel_type", string(channelType))),
		metrics:     collector,
	}
}

func (w *DeliveryWorker) Run(ctx context.Context) {
	w.logger.Info("delivery worker started")
	queueName := queue.DeliveryQueue(string(w.channelType))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopped")
			return
		default:
		}

		job, err := w.queue.Pop(ctx, queueName)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) {
				w.logger.Error("failed to pop delivery", zap.Error(err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(idlePoll):
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *DeliveryWorker) process(ctx context.Context, job *queue.Job) {
	alert, channel, err := w.load(job)
	if err != nil {
		// Missing rows are config-class failures: retrying cannot create
		// the incident or channel. Anything else is a store blip and the
		// job goes back on the queue.
		if errors.Is(err, db.ErrNotFound) {
			w.logger.Error("dropping undeliverable job",
				zap.String("incident_id", job.IncidentID),
				zap.String("channel_id", job.ChannelID),
				zap.Error(err),
			)
			return
		}
		w.retry(ctx, job, err)
		return
	}

	if channel.Type != w.channelType {
		w.logger.Error("dropping delivery routed to wrong sender",
			zap.String("channel_id", channel.ID),
			zap.String("channel_type", string(channel.Type)),
		)
		return
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}

	start := time.Now()
	err = w.sender.Send(ctx, job.Action, alert, channel)
	w.metrics.RecordDelivery(alert.Incident.OrgID, string(w.channelType), err == nil, time.Since(start))

	if err == nil {
		w.logger.Debug("delivery sent",
			zap.String("incident_id", job.IncidentID),
			zap.String("channel_id", channel.ID),
			zap.String("action", job.Action),
		)
		return
	}

	if notify.IsConfigError(err) ||
		errors.Is(err, notify.ErrWebhookExhausted) ||
		errors.Is(err, notify.ErrSMSRateLimited) {
		w.logger.Error("delivery failed terminally",
			zap.String("incident_id", job.IncidentID),
			zap.String("channel_id", channel.ID),
			zap.Error(err),
		)
		if errors.Is(err, notify.ErrSMSRateLimited) {
			w.metrics.RecordSMSRateLimited(alert.Incident.OrgID)
		}
		return
	}

	w.retry(ctx, job, err)
}

func (w *DeliveryWorker) retry(ctx context.Context, job *queue.Job, cause error) {
	job.Attempt++
	if job.Attempt >= w.cfg.MaxAttempts {
		w.logger.Error("delivery failed permanently",
			zap.String("incident_id", job.IncidentID),
			zap.String("channel_id", job.ChannelID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause),
		)
		return
	}

	delay := time.Duration(float64(w.cfg.BaseBackoff) * math.Pow(2, float64(job.Attempt-1)))
	w.metrics.RecordRetry(string(w.channelType))
	w.logger.Warn("delivery failed, retrying",
		zap.String("incident_id", job.IncidentID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)

	if err := w.queue.Push(ctx, queue.DeliveryQueue(string(w.channelType)), job, delay); err != nil {
		w.logger.Error("failed to re-enqueue delivery", zap.Error(err))
	}
}

func (w *DeliveryWorker) load(job *queue.Job) (*notify.Alert, *db.AlertChannel, error) {
	inc, err := w.store.GetIncident(job.IncidentID)
	if err != nil {
		return nil, nil, err
	}
	monitor, err := w.store.GetMonitorByID(inc.MonitorID)
	if err != nil {
		return nil, nil, err
	}
	org, err := w.store.GetOrg(inc.OrgID)
	if err != nil {
		return nil, nil, err
	}
	channel, err := w.store.GetChannel(job.ChannelID)
	if err != nil {
		return nil, nil, err
	}
	runs, err := w.store.RecentRuns(monitor.ID, runHistorySize)
	if err != nil {
		return nil, nil, err
	}

	return &notify.Alert{
		Incident: inc,
		Monitor:  monitor,
		Org:      org,
		Runs:     runs,
	}, channel, nil
}
