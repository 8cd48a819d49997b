package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"framewise/internal/config"
	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
)

// Manager owns one Pool per queue class and the heartbeat monitor.
type Manager struct {
	registry  *queue.Registry
	logger    *slog.Logger
	heartbeat *HeartbeatMonitor

	pools map[string]*Pool
	order []string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds pools for every configured queue class.
func NewManager(cfg *config.Config, registry *queue.Registry, hr *handlers.Registry, chain handlers.Middleware, logger *slog.Logger) *Manager {
	heartbeat := NewHeartbeatMonitor(
		registry,
		logger,
		config.Seconds(cfg.Workflow.HeartbeatInterval),
		config.Seconds(cfg.Workflow.HeartbeatTimeout),
	)
	pools := make([]PoolConfig, 0, len(cfg.Engine.Classes))
	for _, name := range cfg.ClassNames() {
		class := cfg.Engine.Classes[name]
		pools = append(pools, PoolConfig{
			Class:       name,
			Concurrency: class.Concurrency,
			JobTimeout:  config.Seconds(class.JobTimeout),
		})
	}
	return NewManagerWithPools(pools, registry, hr, chain, heartbeat, logger)
}

// NewManagerWithPools builds a manager from explicit pool definitions.
func NewManagerWithPools(pools []PoolConfig, registry *queue.Registry, hr *handlers.Registry, chain handlers.Middleware, heartbeat *HeartbeatMonitor, logger *slog.Logger) *Manager {
	m := &Manager{
		registry:  registry,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		heartbeat: heartbeat,
		pools:     make(map[string]*Pool, len(pools)),
	}
	for _, pc := range pools {
		m.pools[pc.Class] = NewPool(pc, registry, hr, chain, heartbeat, logger)
		m.order = append(m.order, pc.Class)
	}
	sort.Strings(m.order)
	return m
}

// Submit hands a queued job to the pool of its class.
func (m *Manager) Submit(job queue.Job) error {
	pool, ok := m.pools[job.Class]
	if !ok {
		return services.Wrap(services.ErrDispatch, "dispatch", "route", fmt.Sprintf("no worker pool for class %q", job.Class), nil)
	}
	return pool.Submit(job.ID)
}

// HasClass reports whether a pool serves class.
func (m *Manager) HasClass(class string) bool {
	_, ok := m.pools[class]
	return ok
}

// Start launches every pool and the heartbeat monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.pools) == 0 {
		return errors.New("no queue classes configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, class := range m.order {
		if err := m.pools[class].Start(runCtx); err != nil {
			cancel()
			return err
		}
	}
	if m.heartbeat != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.heartbeat.Run(runCtx)
		}()
	}
	m.cancel = cancel
	m.running = true
	m.logger.Info("workflow started",
		logging.Int("classes", len(m.order)),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop shuts down every pool, waiting up to ctx for in-flight jobs.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	var errs []error
	for _, class := range m.order {
		if err := m.pools[class].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

// Running reports whether Start succeeded and Stop has not been called.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns per-class pool statistics ordered by class name.
func (m *Manager) Stats() []PoolStats {
	stats := make([]PoolStats, 0, len(m.order))
	for _, class := range m.order {
		stats = append(stats, m.pools[class].Stats())
	}
	return stats
}

// Heartbeat exposes the monitor for diagnostics.
func (m *Manager) Heartbeat() *HeartbeatMonitor {
	return m.heartbeat
}
