package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
)

// errShutdown marks jobs interrupted because the pool stopped.
var errShutdown = errors.New("job interrupted by shutdown")

func (p *Pool) runWorker(ctx context.Context, worker int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", worker))

	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := p.claim(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
			continue
		}
		p.processJob(ctx, job)
		p.release()
		logger.Debug("worker idle")
	}
}

func (p *Pool) processJob(ctx context.Context, job queue.Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithQueueClass(jobCtx, job.Class)
	jobCtx = services.WithRequestID(jobCtx, uuid.NewString())
	logger := logging.WithContext(jobCtx, p.logger).With(logging.String(logging.FieldJobKind, job.Kind))

	var (
		result json.RawMessage
		err    error
	)
	handler, ok := p.handlers.Resolve(job.Kind)
	if !ok {
		err = dispatchError(job.Kind)
		logging.ErrorWithContext(logger, "no handler for job kind", "job_dispatch_failed", logging.ErrorAttrs(err)...)
	} else {
		result, err = p.executeWithHeartbeat(jobCtx, job, handler)
	}

	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", errShutdown, err)
	}
	p.finish(logger, job, result, err)
}

func (p *Pool) executeWithHeartbeat(ctx context.Context, job queue.Job, handler handlers.Handler) (json.RawMessage, error) {
	if p.heartbeat != nil {
		ctx = services.WithHeartbeat(ctx, func() { p.heartbeat.Beat(job.ID) })
		defer p.heartbeat.Clear(job.ID)
	}
	inv := handlers.Invocation{
		JobID:   job.ID,
		Kind:    job.Kind,
		Class:   job.Class,
		Timeout: p.cfg.JobTimeout,
	}
	return handlers.Invoke(ctx, p.chain, inv, handler, job.Payload)
}

func (p *Pool) finish(logger *slog.Logger, job queue.Job, result json.RawMessage, jobErr error) {
	var err error
	if jobErr != nil {
		_, err = p.registry.Transition(job.ID, queue.StatusFailed, nil, jobErr)
	} else {
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		if !json.Valid(result) {
			invalid := services.Wrap(services.ErrCollaborator, "handler", job.Kind, "handler returned a result that is not valid JSON", nil)
			logging.ErrorWithContext(logger, "handler result rejected", "job_result_invalid", logging.ErrorAttrs(invalid)...)
			_, err = p.registry.Transition(job.ID, queue.StatusFailed, nil, invalid)
		} else {
			_, err = p.registry.Transition(job.ID, queue.StatusCompleted, result, nil)
		}
	}
	if err != nil {
		p.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record job outcome", "job_outcome_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "job state may be stale; check registry logs"),
		)
	}
}
