// Package statusmirror publishes job state to Redis so external consumers can
// poll or subscribe without talking to the daemon. Each job is a hash at
// <prefix>job:<id>; every committed change is also published on a channel.
package statusmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"framewise/internal/config"
	"framewise/internal/logging"
	"framewise/internal/queue"
)

// Client is the subset of the go-redis API the mirror uses. *redis.Client
// and *redis.ClusterClient both satisfy it.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Event is the message published on the channel.
type Event struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Class     string       `json:"class"`
	Status    queue.Status `json:"status"`
	ErrorKind string       `json:"errorKind,omitempty"`
	At        time.Time    `json:"at"`
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithKeyPrefix overrides the "framewise:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(m *Mirror) { m.prefix = prefix }
}

// WithChannel overrides the pub/sub channel.
func WithChannel(channel string) Option {
	return func(m *Mirror) { m.channel = channel }
}

// WithTTL expires terminal job hashes after ttl. Zero keeps them.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mirror) { m.ttl = ttl }
}

// WithBuffer sets how many pending updates may queue before drops.
func WithBuffer(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.jobs = make(chan queue.Job, n)
		}
	}
}

// Mirror is a queue.Observer that writes job state to Redis.
type Mirror struct {
	client  Client
	closer  func() error
	prefix  string
	channel string
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	jobs    chan queue.Job
}

// New wraps an existing client. The caller owns the client lifecycle.
func New(client Client, logger *slog.Logger, opts ...Option) *Mirror {
	m := &Mirror{
		client:  client,
		prefix:  "framewise:",
		channel: "framewise:jobs",
		logger:  logging.NewComponentLogger(logger, "statusmirror"),
		now:     time.Now,
		jobs:    make(chan queue.Job, 512),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects to the [redis] section's URL and verifies it with PING.
func Open(ctx context.Context, cfg config.Redis, logger *slog.Logger) (*Mirror, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("statusmirror: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("statusmirror: redis ping: %w", err)
	}
	var options []Option
	if cfg.KeyPrefix != "" {
		options = append(options, WithKeyPrefix(cfg.KeyPrefix))
	}
	if cfg.Channel != "" {
		options = append(options, WithChannel(cfg.Channel))
	}
	options = append(options, WithTTL(config.Seconds(cfg.TTL)))
	m := New(client, logger, options...)
	m.closer = client.Close
	return m, nil
}

// Close releases a client opened by Open.
func (m *Mirror) Close() error {
	if m == nil || m.closer == nil {
		return nil
	}
	return m.closer()
}

// Key returns the hash key for a job id.
func (m *Mirror) Key(id string) string {
	return m.prefix + "job:" + id
}

// JobChanged implements queue.Observer. It never blocks.
func (m *Mirror) JobChanged(job queue.Job) {
	select {
	case m.jobs <- job:
	default:
		logging.WarnWithContext(m.logger, "status mirror buffer full; dropping update", "statusmirror_dropped",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
			logging.String(logging.FieldErrorHint, "check redis latency"),
			logging.String(logging.FieldImpact, "mirror may show a stale status"),
		)
	}
}

// Run writes pending updates until ctx is canceled, then flushes the rest.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case job := <-m.jobs:
			m.write(ctx, job)
		case <-ctx.Done():
			m.flush()
			return
		}
	}
}

func (m *Mirror) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case job := <-m.jobs:
			m.write(ctx, job)
		default:
			return
		}
	}
}

// Write mirrors one job synchronously.
func (m *Mirror) Write(ctx context.Context, job queue.Job) error {
	key := m.Key(job.ID)
	if err := m.client.HSet(ctx, key, Fields(job)).Err(); err != nil {
		return fmt.Errorf("statusmirror: hset %s: %w", key, err)
	}
	if job.Status.IsTerminal() && m.ttl > 0 {
		if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
			return fmt.Errorf("statusmirror: expire %s: %w", key, err)
		}
	}
	payload, err := json.Marshal(Event{
		ID:        job.ID,
		Kind:      job.Kind,
		Class:     job.Class,
		Status:    job.Status,
		ErrorKind: job.ErrorKind,
		At:        m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("statusmirror: encode event: %w", err)
	}
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		return fmt.Errorf("statusmirror: publish: %w", err)
	}
	return nil
}

func (m *Mirror) write(ctx context.Context, job queue.Job) {
	if err := m.Write(ctx, job); err != nil {
		logging.WarnWithContext(m.logger, "failed to mirror job status", "statusmirror_write_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check redis.url and server availability"),
			logging.String(logging.FieldImpact, "mirror may show a stale status"),
		)
	}
}

// Fields flattens a job into hash fields. Timestamps use RFC 3339.
func Fields(job queue.Job) map[string]any {
	fields := map[string]any{
		"id":        job.ID,
		"kind":      job.Kind,
		"class":     job.Class,
		"status":    string(job.Status),
		"queued_at": job.QueuedAt.UTC().Format(time.RFC3339Nano),
	}
	setTime := func(name string, t *time.Time) {
		if t != nil {
			fields[name] = t.UTC().Format(time.RFC3339Nano)
		}
	}
	setTime("started_at", job.StartedAt)
	setTime("completed_at", job.CompletedAt)
	setTime("failed_at", job.FailedAt)
	setTime("last_heartbeat", job.LastHeartbeat)
	if len(job.Result) > 0 {
		fields["result"] = string(job.Result)
	}
	if job.Error != "" {
		fields["error"] = job.Error
		fields["error_kind"] = job.ErrorKind
	}
	return fields
}
