package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"framewise/internal/api"
	"framewise/internal/config"
	"framewise/internal/deps"
	"framewise/internal/engine"
	"framewise/internal/history"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
)

// Daemon coordinates the engine, background workers, and the HTTP API, and
// enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *engine.Engine
	history *history.Store
	workers []func(context.Context)

	lockPath string
	pidPath  string
	lock     *flock.Flock
	api      *apiServer

	// Status reads these without taking mu, so it never waits on Start or Stop.
	running      atomic.Bool
	startedAt    atomic.Pointer[time.Time]
	dependencies atomic.Pointer[[]deps.Status]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithHistory exposes an archive through /api/history.
func WithHistory(store *history.Store) Option {
	return func(d *Daemon) { d.history = store }
}

// WithWorker runs fn on its own goroutine for the daemon's lifetime. fn must
// return once its context is canceled.
func WithWorker(fn func(context.Context)) Option {
	return func(d *Daemon) {
		if fn != nil {
			d.workers = append(d.workers, fn)
		}
	}
}

// New constructs a daemon around an engine with registered handlers.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || eng == nil {
		return nil, errors.New("daemon requires config and engine")
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		engine:   eng,
		lockPath: cfg.LockPath(),
		pidPath:  cfg.PIDPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, d, d.logger)
	return d, nil
}

// Start acquires the lock, starts the engine and workers, then the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(d.cfg.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another framewise daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}
	for _, worker := range d.workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			worker(runCtx)
		}()
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			d.wg.Wait()
			_ = d.engine.Stop(context.Background())
			_ = d.lock.Unlock()
			return err
		}
	}
	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		logging.WarnWithContext(d.logger, "failed to write pid file", "daemon_pid_failed",
			logging.String("path", d.pidPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.state_dir permissions"),
			logging.String(logging.FieldImpact, "external tooling cannot find the daemon pid"),
		)
	}

	snapshot := deps.CheckBinaries(deps.Requirements(d.cfg))
	d.dependencies.Store(&snapshot)
	d.cancel = cancel
	started := time.Now()
	d.startedAt.Store(&started)
	d.running.Store(true)
	d.logger.Info("framewise daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop shuts down the API, drains the engine within the configured shutdown
// timeout, stops workers, and releases the lock.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil
	}

	if d.api != nil {
		d.api.stop()
	}
	stopCtx := ctx
	if timeout := config.Seconds(d.cfg.Workflow.ShutdownTimeout); timeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	engineErr := d.engine.Stop(stopCtx)

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	if err := os.Remove(d.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Debug("remove pid file", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file manually if a restart fails"),
		)
	}
	d.running.Store(false)
	d.startedAt.Store(nil)
	d.logger.Info("framewise daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return engineErr
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool { return d.running.Load() }

// APIAddress returns the bound API address, or "" when the API is disabled.
func (d *Daemon) APIAddress() string {
	if d.api == nil {
		return ""
	}
	return d.api.address()
}

// Status returns the current daemon status. Dependencies reflect the snapshot
// taken at Start.
func (d *Daemon) Status(context.Context) api.DaemonStatus {
	stats := d.engine.Stats()
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Jobs:         stats.Jobs,
		Pools:        stats.Pools,
		Kinds:        stats.Kinds,
	}
	if snapshot := d.dependencies.Load(); snapshot != nil {
		status.Dependencies = *snapshot
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	if started := d.startedAt.Load(); started != nil && status.Running {
		value := *started
		status.StartedAt = &value
	}
	return status
}

// Submit enqueues a job, generating an id when the request has none.
func (d *Daemon) Submit(ctx context.Context, req api.SubmitRequest) (string, error) {
	if id := strings.TrimSpace(req.ID); id != "" {
		if err := d.engine.EnqueueWithID(ctx, id, req.Kind, req.Payload); err != nil {
			return "", err
		}
		return id, nil
	}
	return d.engine.Enqueue(ctx, req.Kind, req.Payload)
}

// Job returns a live job record.
func (d *Daemon) Job(id string) (queue.Job, error) {
	return d.engine.GetStatus(id)
}

// Jobs lists live job records.
func (d *Daemon) Jobs(filter queue.Filter) []queue.Job {
	return d.engine.List(filter)
}

// History lists archived jobs.
func (d *Daemon) History(ctx context.Context, q history.Query) ([]history.Entry, error) {
	if d.history == nil {
		return nil, errHistoryDisabled
	}
	return d.history.List(ctx, q)
}

// HistoryEntry returns one archived job.
func (d *Daemon) HistoryEntry(ctx context.Context, id string) (history.Entry, error) {
	if d.history == nil {
		return history.Entry{}, errHistoryDisabled
	}
	return d.history.Get(ctx, id)
}

var errHistoryDisabled = services.Wrap(services.ErrConfiguration, "daemon", "history", "history archive disabled", nil)
