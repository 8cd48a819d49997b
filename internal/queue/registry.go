package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"framewise/internal/logging"
	"framewise/internal/services"
)

// Observer receives a copy of a job after each committed creation or
// transition. Observers run outside the registry lock and must not call back
// into Transition for the same job.
type Observer interface {
	JobChanged(job Job)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Job)

// JobChanged calls f(job).
func (f ObserverFunc) JobChanged(job Job) { f(job) }

type entry struct {
	job Job
	seq uint64
}

// Registry is the concurrency-safe store of job state.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	seq       uint64
	observers []Observer
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		jobs:   make(map[string]*entry),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.NewComponentLogger(logger, "registry"),
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now != nil {
		r.now = now
	}
}

// AddObserver registers an observer for committed changes.
func (r *Registry) AddObserver(observer Observer) {
	if observer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

// Create inserts a new job with status queued. A duplicate id is rejected and
// the existing record is left untouched.
func (r *Registry) Create(job Job) (Job, error) {
	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		return Job{}, services.Wrap(services.ErrValidation, "registry", "create", "job id is required", nil)
	}
	if strings.TrimSpace(job.Kind) == "" {
		return Job{}, services.Wrap(services.ErrValidation, "registry", "create", "job kind is required", nil)
	}

	r.mu.Lock()
	if _, exists := r.jobs[job.ID]; exists {
		r.mu.Unlock()
		return Job{}, services.Wrap(services.ErrRegistry, "registry", "create", fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	r.seq++
	stored := job.Clone()
	stored.Status = StatusQueued
	stored.Result = nil
	stored.Error = ""
	stored.ErrorKind = ""
	stored.QueuedAt = r.now()
	stored.StartedAt = nil
	stored.CompletedAt = nil
	stored.FailedAt = nil
	stored.LastHeartbeat = nil
	r.jobs[job.ID] = &entry{job: stored, seq: r.seq}
	snapshot := stored.Clone()
	observers := r.observers
	r.mu.Unlock()

	r.notify(observers, snapshot)
	return snapshot, nil
}

// Get returns a copy of the job or a not-found error.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	return e.job.Clone(), nil
}

// Transition moves a job to the next status. Completed requires a result;
// failed requires a non-nil error. Moves that break the forward-only
// lifecycle are rejected and leave the record unchanged.
func (r *Registry) Transition(id string, to Status, result json.RawMessage, jobErr error) (Job, error) {
	switch to {
	case StatusCompleted:
		if len(result) == 0 {
			return Job{}, services.Wrap(services.ErrValidation, "registry", "transition", "completed job requires a result", nil)
		}
		if jobErr != nil {
			return Job{}, services.Wrap(services.ErrValidation, "registry", "transition", "completed job cannot carry an error", nil)
		}
	case StatusFailed:
		if jobErr == nil {
			return Job{}, services.Wrap(services.ErrValidation, "registry", "transition", "failed job requires an error", nil)
		}
		if len(result) != 0 {
			return Job{}, services.Wrap(services.ErrValidation, "registry", "transition", "failed job cannot carry a result", nil)
		}
	}

	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return Job{}, notFound(id)
	}
	if !CanTransition(e.job.Status, to) {
		from := e.job.Status
		r.mu.Unlock()
		return Job{}, services.Wrap(services.ErrRegistry, "registry", "transition",
			fmt.Sprintf("job %s cannot move from %s to %s", id, from, to), nil)
	}
	r.applyLocked(&e.job, to, result, jobErr)
	snapshot := e.job.Clone()
	observers := r.observers
	r.mu.Unlock()

	r.notify(observers, snapshot)
	return snapshot, nil
}

func (r *Registry) applyLocked(job *Job, to Status, result json.RawMessage, jobErr error) {
	now := r.now()
	job.Status = to
	switch to {
	case StatusProcessing:
		job.StartedAt = &now
		job.LastHeartbeat = &now
	case StatusCompleted:
		job.Result = cloneRaw(result)
		job.CompletedAt = &now
		job.LastHeartbeat = nil
	case StatusFailed:
		job.Error = jobErr.Error()
		job.ErrorKind = string(services.KindOf(jobErr))
		job.FailedAt = &now
		job.LastHeartbeat = nil
	}
}

// Discard removes a job that never left the queued state. Submission uses it
// to roll back a record whose pool refused the job.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return notFound(id)
	}
	if e.job.Status != StatusQueued {
		return services.Wrap(services.ErrRegistry, "registry", "discard",
			fmt.Sprintf("job %s is %s; only queued jobs can be discarded", id, e.job.Status), nil)
	}
	delete(r.jobs, id)
	return nil
}

// Touch refreshes the heartbeat of a processing job.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return notFound(id)
	}
	if e.job.Status != StatusProcessing {
		return services.Wrap(services.ErrRegistry, "registry", "heartbeat",
			fmt.Sprintf("job %s is %s, not processing", id, e.job.Status), nil)
	}
	now := r.now()
	e.job.LastHeartbeat = &now
	return nil
}

// Stale returns processing jobs whose last heartbeat is older than cutoff.
func (r *Registry) Stale(cutoff time.Time) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []Job
	for _, e := range r.sortedLocked() {
		if e.job.Status != StatusProcessing || e.job.LastHeartbeat == nil {
			continue
		}
		if e.job.LastHeartbeat.Before(cutoff) {
			stale = append(stale, e.job.Clone())
		}
	}
	return stale
}

// List returns copies of matching jobs in submission order.
func (r *Registry) List(filter Filter) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.jobs))
	for _, e := range r.sortedLocked() {
		if !filter.matches(&e.job) {
			continue
		}
		out = append(out, e.job.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Summary returns counts per status.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Summary
	for _, e := range r.jobs {
		s.Total++
		switch e.job.Status {
		case StatusQueued:
			s.Queued++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Len reports how many jobs are tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func (r *Registry) notify(observers []Observer, job Job) {
	for _, observer := range observers {
		r.safeNotify(observer, job)
	}
}

func (r *Registry) safeNotify(observer Observer, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.WarnWithContext(r.logger, "job observer panicked; state unaffected", "observer_panic",
				logging.String(logging.FieldJobID, job.ID),
				logging.Any("panic", rec),
				logging.String(logging.FieldImpact, "one downstream consumer missed a status change"),
			)
		}
	}()
	observer.JobChanged(job.Clone())
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "registry", "get", fmt.Sprintf("job %s not found", id), nil)
}
