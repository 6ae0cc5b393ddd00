package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/queue"
	"github.com/pulsewatch/pulsewatch/internal/router"
	"go.uber.org/zap"
)

// RouterWorker drains the incident dispatch queue and runs the alert router
// for each job. Router failures are scoped to one incident and retried the
// same way delivery failures are.
type RouterWorker struct {
	id     int
	router *router.Router
	queue  Queue
	cfg    workerRetryConfig
	logger *zap.Logger
}

type workerRetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func NewRouterWorker(id int, r *router.Router, q Queue, maxAttempts int, baseBackoff time.Duration, logger *zap.Logger) *RouterWorker {
	return &RouterWorker{
		id:     id,
		router: r,
		queue:  q,
		cfg:    workerRetryConfig{MaxAttempts: maxAttempts, BaseBackoff: baseBackoff},
		logger: logger.With(zap.Int("worker_id", id), zap.String("queue", queue.DispatchQueue)),
	}
}

func (w *RouterWorker) Run(ctx context.Context) {
	w.logger.Info("router worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("router worker stopped")
			return
		default:
		}

		job, err := w.queue.Pop(ctx, queue.DispatchQueue)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) {
				w.logger.Error("failed to pop dispatch job", zap.Error(err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(idlePoll):
			}
			continue
		}

		if err := w.router.Dispatch(ctx, job.IncidentID, job.Action); err != nil {
			w.retry(ctx, job, err)
		}
	}
}

func (w *RouterWorker) retry(ctx context.Context, job *queue.Job, cause error) {
	job.Attempt++
	if job.Attempt >= w.cfg.MaxAttempts {
		w.logger.Error("dispatch failed permanently",
			zap.String("incident_id", job.IncidentID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause),
		)
		return
	}

	delay := w.cfg.BaseBackoff << (job.Attempt - 1)
	w.logger.Warn("dispatch failed, retrying",
		zap.String("incident_id", job.IncidentID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)

	if err := w.queue.Push(ctx, queue.DispatchQueue, job, delay); err != nil {
		w.logger.Error("failed to re-enqueue dispatch job", zap.Error(err))
	}
}
