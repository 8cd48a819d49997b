package notifications

import (
	"context"
	"log/slog"

	"framewise/internal/config"
	"framewise/internal/logging"
	"framewise/internal/queue"
)

// Observer forwards terminal transitions to a Service from its own goroutine.
type Observer struct {
	svc       Service
	completed bool
	failed    bool
	logger    *slog.Logger
	jobs      chan queue.Job
}

// NewObserver honors the completed/failed toggles of the [notifications] section.
func NewObserver(svc Service, cfg config.Notifications, logger *slog.Logger) *Observer {
	return &Observer{
		svc:       svc,
		completed: cfg.Completed,
		failed:    cfg.Failed,
		logger:    logging.NewComponentLogger(logger, "notifications"),
		jobs:      make(chan queue.Job, 64),
	}
}

// JobChanged implements queue.Observer.
func (o *Observer) JobChanged(job queue.Job) {
	switch {
	case job.Status == queue.StatusCompleted && o.completed:
	case job.Status == queue.StatusFailed && o.failed:
	default:
		return
	}
	select {
	case o.jobs <- job:
	default:
		o.logger.Debug("notification buffer full; dropping", logging.String(logging.FieldJobID, job.ID))
	}
}

// Run delivers notifications until ctx is canceled. Pending notifications
// are dropped on shutdown.
func (o *Observer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.jobs:
			var err error
			if job.Status == queue.StatusCompleted {
				err = o.svc.NotifyJobCompleted(ctx, job)
			} else {
				err = o.svc.NotifyJobFailed(ctx, job)
			}
			if err != nil {
				logging.WarnWithContext(o.logger, "notification delivery failed", "notification_failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
					logging.String(logging.FieldImpact, "job outcome not pushed"),
				)
			}
		}
	}
}
