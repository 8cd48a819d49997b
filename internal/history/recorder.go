package history

import (
	"context"
	"log/slog"
	"time"

	"framewise/internal/logging"
	"framewise/internal/queue"
)

const defaultRecorderBuffer = 256

// Recorder archives terminal jobs reported by the registry. JobChanged never
// blocks the worker that committed the transition; writes happen on Run's
// goroutine.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	jobs   chan queue.Job
}

// NewRecorder returns a recorder with room for buffer pending writes.
func NewRecorder(store *Store, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &Recorder{
		store:  store,
		logger: logging.NewComponentLogger(logger, "history"),
		jobs:   make(chan queue.Job, buffer),
	}
}

// JobChanged implements queue.Observer.
func (r *Recorder) JobChanged(job queue.Job) {
	if !job.Status.IsTerminal() {
		return
	}
	select {
	case r.jobs <- job:
	default:
		logging.WarnWithContext(r.logger, "history buffer full; dropping job", "history_dropped",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldErrorHint, "check archive disk latency"),
			logging.String(logging.FieldImpact, "job missing from history"),
		)
	}
}

// Run writes queued jobs until ctx is canceled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case job := <-r.jobs:
			r.write(ctx, job)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case job := <-r.jobs:
			r.write(ctx, job)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, job queue.Job) {
	if err := r.store.Record(ctx, job); err != nil {
		logging.WarnWithContext(r.logger, "failed to archive job", "history_write_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history.path permissions"),
			logging.String(logging.FieldImpact, "job missing from history"),
		)
		return
	}
	r.logger.Debug("job archived",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", string(job.Status)),
		logging.String(logging.FieldEventType, "history_recorded"),
	)
}
