package services

import "context"

type contextKey string

const (
	jobIDKey      contextKey = "job_id"
	stageKey      contextKey = "stage"
	queueClassKey contextKey = "queue_class"
	requestIDKey  contextKey = "request_id"
	heartbeatKey  contextKey = "heartbeat"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithQueueClass annotates context with the queue class executing the job.
func WithQueueClass(ctx context.Context, class string) context.Context {
	if class == "" {
		return ctx
	}
	return context.WithValue(ctx, queueClassKey, class)
}

// QueueClassFromContext returns the queue class if present.
func QueueClassFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(queueClassKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithHeartbeat installs the liveness callback the worker pool watches.
func WithHeartbeat(ctx context.Context, beat func()) context.Context {
	if beat == nil {
		return ctx
	}
	return context.WithValue(ctx, heartbeatKey, beat)
}

// Heartbeat signals that the job owning ctx is still making progress.
// It is a no-op outside a worker.
func Heartbeat(ctx context.Context) {
	if ctx == nil {
		return
	}
	if beat, ok := ctx.Value(heartbeatKey).(func()); ok && beat != nil {
		beat()
	}
}
