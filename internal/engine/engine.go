package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"framewise/internal/config"
	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
	"framewise/internal/workflow"
)

// Engine wires the job registry, handler registry, and worker pools.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *queue.Registry
	handlers *handlers.Registry
	workflow *workflow.Manager
	policy   queue.RetentionPolicy

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customises engine construction.
type Option func(*options)

type options struct {
	chain     handlers.Middleware
	observers []queue.Observer
	pools     []workflow.PoolConfig
}

// WithMiddleware replaces the default handler middleware chain.
func WithMiddleware(chain handlers.Middleware) Option {
	return func(o *options) { o.chain = chain }
}

// WithObserver attaches an observer to every committed job change.
func WithObserver(observer queue.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// WithPools overrides the pools derived from configuration.
func WithPools(pools ...workflow.PoolConfig) Option {
	return func(o *options) { o.pools = append(o.pools, pools...) }
}

// New constructs an engine from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Engine {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chain == nil {
		o.chain = handlers.DefaultChain(logger)
	}

	registry := queue.NewRegistry(logger)
	for _, observer := range o.observers {
		registry.AddObserver(observer)
	}
	hr := handlers.NewRegistry()

	var mgr *workflow.Manager
	if len(o.pools) > 0 {
		heartbeat := workflow.NewHeartbeatMonitor(registry, logger,
			config.Seconds(cfg.Workflow.HeartbeatInterval), config.Seconds(cfg.Workflow.HeartbeatTimeout))
		mgr = workflow.NewManagerWithPools(o.pools, registry, hr, o.chain, heartbeat, logger)
	} else {
		mgr = workflow.NewManager(cfg, registry, hr, o.chain, logger)
	}

	return &Engine{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "engine"),
		registry: registry,
		handlers: hr,
		workflow: mgr,
		policy: queue.RetentionPolicy{
			MaxAge:  config.Seconds(cfg.Retention.MaxAge),
			MaxJobs: cfg.Retention.MaxJobs,
		},
	}
}

// RegisterHandler binds a handler to a job kind. It fails once the engine has
// started or when the kind is already bound.
func (e *Engine) RegisterHandler(kind string, handler handlers.Handler) error {
	return e.handlers.Register(kind, handler)
}

// Handlers exposes the handler registry for typed registration.
func (e *Engine) Handlers() *handlers.Registry {
	return e.handlers
}

// AddObserver attaches an observer after construction.
func (e *Engine) AddObserver(observer queue.Observer) {
	e.registry.AddObserver(observer)
}

// Enqueue records a new job with a generated id and hands it to its class
// pool. It returns as soon as the job is queued.
func (e *Engine) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	id := uuid.NewString()
	if err := e.EnqueueWithID(ctx, id, kind, payload); err != nil {
		return "", err
	}
	return id, nil
}

// EnqueueWithID is Enqueue with a caller-chosen id. A duplicate id is
// rejected with a registry error and the existing job is left untouched.
func (e *Engine) EnqueueWithID(ctx context.Context, id, kind string, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return services.Wrap(services.ErrValidation, "engine", "enqueue", "job kind is required", nil)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return services.Wrap(services.ErrValidation, "engine", "enqueue", "payload is not valid JSON", nil)
	}
	class := e.cfg.ClassFor(kind)
	if !e.workflow.HasClass(class) {
		return services.Wrap(services.ErrConfiguration, "engine", "enqueue",
			fmt.Sprintf("kind %q routes to unknown class %q", kind, class), nil)
	}

	job, err := e.registry.Create(queue.Job{ID: id, Kind: kind, Class: class, Payload: payload})
	if err != nil {
		return err
	}
	if err := e.workflow.Submit(job); err != nil {
		if discardErr := e.registry.Discard(job.ID); discardErr != nil {
			e.logger.Debug("discard after failed submit", logging.String(logging.FieldJobID, job.ID), logging.Error(discardErr))
		}
		return err
	}

	e.logger.Debug("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, kind),
		logging.String(logging.FieldQueueClass, class),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)
	return nil
}

// GetStatus returns a copy of the job. Unknown and evicted ids yield a
// not-found error.
func (e *Engine) GetStatus(id string) (queue.Job, error) {
	return e.registry.Get(id)
}

// List returns copies of jobs matching filter in submission order.
func (e *Engine) List(filter queue.Filter) []queue.Job {
	return e.registry.List(filter)
}

// Stats is a point-in-time engine overview.
type Stats struct {
	Running bool                 `json:"running"`
	Jobs    queue.Summary        `json:"jobs"`
	Pools   []workflow.PoolStats `json:"pools"`
	Kinds   []string             `json:"kinds"`
}

// Stats reports job counts, pool usage, and registered kinds.
func (e *Engine) Stats() Stats {
	return Stats{
		Running: e.workflow.Running(),
		Jobs:    e.registry.Summary(),
		Pools:   e.workflow.Stats(),
		Kinds:   e.handlers.Kinds(),
	}
}

// Start freezes the handler table and launches workers and retention.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	e.handlers.Freeze()
	runCtx, cancel := context.WithCancel(ctx)
	if err := e.workflow.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if e.policy.Enabled() {
		interval := config.Seconds(e.cfg.Retention.SweepInterval)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.registry.RunRetention(runCtx, e.policy, interval, e.logger)
		}()
	}
	e.cancel = cancel
	e.started = true
	e.logger.Info("engine started",
		logging.Any("kinds", e.handlers.Kinds()),
		logging.String(logging.FieldEventType, "engine_started"),
	)
	return nil
}

// Stop cancels in-flight jobs and waits for workers until ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	err := e.workflow.Stop(ctx)
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	if err != nil {
		logging.WarnWithContext(e.logger, "engine stop incomplete", "engine_stop_incomplete",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise workflow.shutdown_timeout"),
			logging.String(logging.FieldImpact, "some jobs may not have recorded a terminal status"),
		)
		return err
	}
	e.logger.Info("engine stopped", logging.String(logging.FieldEventType, "engine_stopped"))
	return nil
}

// EvictNow applies the retention policy immediately.
func (e *Engine) EvictNow() []string {
	return e.registry.Evict(e.policy)
}
