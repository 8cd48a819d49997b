package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
)

// ErrPoolStopped is returned when submitting to a pool that no longer accepts work.
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolConfig describes one queue class.
type PoolConfig struct {
	Class       string
	Concurrency int
	// JobTimeout bounds each job. Zero disables the deadline.
	JobTimeout time.Duration
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Class       string `json:"class"`
	Concurrency int    `json:"concurrency"`
	Pending     int    `json:"pending"`
	Active      int    `json:"active"`
	Running     bool   `json:"running"`
}

// Pool executes jobs for a single queue class with bounded concurrency.
type Pool struct {
	cfg       PoolConfig
	registry  *queue.Registry
	handlers  *handlers.Registry
	chain     handlers.Middleware
	heartbeat *HeartbeatMonitor
	logger    *slog.Logger

	mu      sync.Mutex
	pending []string
	wake    chan struct{}
	active  int
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewPool constructs a pool. Concurrency below one is raised to one, and a
// nil chain falls back to panic recovery alone.
func NewPool(cfg PoolConfig, registry *queue.Registry, hr *handlers.Registry, chain handlers.Middleware, heartbeat *HeartbeatMonitor, logger *slog.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if chain == nil {
		chain = handlers.Recover(logger)
	}
	return &Pool{
		cfg:       cfg,
		registry:  registry,
		handlers:  hr,
		chain:     chain,
		heartbeat: heartbeat,
		logger:    logging.NewComponentLogger(logger, "workflow").With(logging.String(logging.FieldQueueClass, cfg.Class)),
		wake:      make(chan struct{}, 1),
	}
}

// Class returns the queue class served by the pool.
func (p *Pool) Class() string { return p.cfg.Class }

// Submit appends a queued job id to the pool's FIFO and returns immediately.
func (p *Pool) Submit(id string) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("%w: class %s", ErrPoolStopped, p.cfg.Class)
	}
	p.pending = append(p.pending, id)
	p.mu.Unlock()
	p.signal()
	return nil
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pool %s already running", p.cfg.Class)
	}
	if p.stopped {
		return fmt.Errorf("%w: class %s", ErrPoolStopped, p.cfg.Class)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		go p.runWorker(runCtx, i)
	}
	p.logger.Debug("worker pool started", logging.Int("concurrency", p.cfg.Concurrency))
	return nil
}

// Stop refuses new submissions, cancels in-flight jobs, and waits for the
// workers to exit or ctx to expire. Jobs still queued stay queued.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	wasRunning := p.running
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if !wasRunning {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop pool %s: %w", p.cfg.Class, ctx.Err())
	}
}

// Stats reports queue depth and worker usage.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Class:       p.cfg.Class,
		Concurrency: p.cfg.Concurrency,
		Pending:     len(p.pending),
		Active:      p.active,
		Running:     p.running,
	}
}

// LastError returns the most recent internal error, if any.
func (p *Pool) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// claim pops the oldest pending id and moves it to processing while holding
// the pool lock, so start order always matches submission order.
func (p *Pool) claim(ctx context.Context) (queue.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) > 0 {
		if ctx.Err() != nil {
			return queue.Job{}, false
		}
		id := p.pending[0]
		p.pending[0] = ""
		p.pending = p.pending[1:]

		job, err := p.registry.Transition(id, queue.StatusProcessing, nil, nil)
		if err != nil {
			p.lastErr = err
			logging.WarnWithContext(p.logger, "queued job could not be claimed; skipping", "job_claim_failed",
				logging.String(logging.FieldJobID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "job will not run"),
			)
			continue
		}
		p.active++
		if len(p.pending) > 0 {
			p.signal()
		}
		return job, true
	}
	return queue.Job{}, false
}

func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *Pool) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// Dispatch errors are built here so callers and tests share the wording.
func dispatchError(kind string) error {
	return services.Wrap(services.ErrDispatch, "dispatch", "resolve", fmt.Sprintf("no handler registered for kind %q", kind), nil)
}
