package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"framewise/internal/logging"
	"framewise/internal/queue"
)

// HeartbeatMonitor records handler liveness and reports jobs whose handlers
// have gone quiet for longer than the timeout. It only logs; the per-class
// job deadline is what actually stops a hung handler.
type HeartbeatMonitor struct {
	registry *queue.Registry
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	flagged map[string]struct{}
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(registry *queue.Registry, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "workflow-heartbeat"),
		interval: interval,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
		flagged:  make(map[string]struct{}),
	}
}

// Beat refreshes the heartbeat for a processing job.
func (h *HeartbeatMonitor) Beat(jobID string) {
	if err := h.registry.Touch(jobID); err != nil {
		h.logger.Debug("heartbeat ignored", logging.String(logging.FieldJobID, jobID), logging.Error(err))
		return
	}
	h.mu.Lock()
	_, wasFlagged := h.flagged[jobID]
	delete(h.flagged, jobID)
	h.mu.Unlock()
	if wasFlagged {
		h.logger.Info("stalled job resumed heartbeats",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldEventType, "job_heartbeat_resumed"),
		)
	}
}

// Clear forgets a job once its handler returns.
func (h *HeartbeatMonitor) Clear(jobID string) {
	h.mu.Lock()
	delete(h.flagged, jobID)
	h.mu.Unlock()
}

// CheckStale logs processing jobs without a heartbeat inside the timeout.
// Each stall episode is reported once. It returns the newly flagged jobs.
func (h *HeartbeatMonitor) CheckStale() []queue.Job {
	if h.timeout <= 0 {
		return nil
	}
	cutoff := h.now().Add(-h.timeout)
	stale := h.registry.Stale(cutoff)

	var fresh []queue.Job
	h.mu.Lock()
	for _, job := range stale {
		if _, seen := h.flagged[job.ID]; seen {
			continue
		}
		h.flagged[job.ID] = struct{}{}
		fresh = append(fresh, job)
	}
	h.mu.Unlock()

	for _, job := range fresh {
		var quiet time.Duration
		if job.LastHeartbeat != nil {
			quiet = h.now().Sub(*job.LastHeartbeat)
		}
		logging.WarnWithContext(h.logger, "job heartbeat stale; handler may be hung", "job_heartbeat_stale",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobKind, job.Kind),
			logging.String(logging.FieldQueueClass, job.Class),
			logging.Duration("quiet_for", quiet),
			logging.String(logging.FieldErrorHint, "inspect the running tool or lower the class job_timeout"),
			logging.String(logging.FieldImpact, "a worker slot stays occupied until the job finishes or times out"),
		)
	}
	return fresh
}

// Run checks for stale jobs every interval until ctx is cancelled.
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	if h.interval <= 0 || h.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckStale()
		}
	}
}
