package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
	"framewise/internal/workflow"
)

const testClass = "media-processing"

type harness struct {
	registry *queue.Registry
	handlers *handlers.Registry
	pool     *workflow.Pool
}

func newHarness(t *testing.T, concurrency int, timeout time.Duration) *harness {
	t.Helper()
	logger := logging.NewNop()
	reg := queue.NewRegistry(logger)
	hr := handlers.NewRegistry()
	chain := handlers.Chain(handlers.Timeout(logger), handlers.Recover(logger))
	heartbeat := workflow.NewHeartbeatMonitor(reg, logger, 0, 0)
	pool := workflow.NewPool(workflow.PoolConfig{Class: testClass, Concurrency: concurrency, JobTimeout: timeout}, reg, hr, chain, heartbeat, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return &harness{registry: reg, handlers: hr, pool: pool}
}

func (h *harness) submit(t *testing.T, id, kind string) {
	t.Helper()
	if _, err := h.registry.Create(queue.Job{ID: id, Kind: kind, Class: testClass, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
	if err := h.pool.Submit(id); err != nil {
		t.Fatalf("Submit %s: %v", id, err)
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitTerminal(t *testing.T, reg *queue.Registry, id string) queue.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return queue.Job{}
}

func ok(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func TestPoolCompletesJob(t *testing.T) {
	h := newHarness(t, 1, 0)
	if err := h.handlers.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.start(t)
	h.submit(t, "job-1", "echo")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if string(job.Result) != `{}` || job.Error != "" {
		t.Fatalf("unexpected outcome: result=%s error=%q", job.Result, job.Error)
	}
	if job.StartedAt == nil || job.CompletedAt == nil || job.FailedAt != nil {
		t.Fatalf("unexpected timestamps: %+v", job)
	}
}

func TestPoolNilResultStoredAsNull(t *testing.T) {
	h := newHarness(t, 1, 0)
	_ = h.handlers.Register("void", func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	h.start(t)
	h.submit(t, "job-1", "void")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusCompleted || string(job.Result) != "null" {
		t.Fatalf("expected completed with null result, got %s %s", job.Status, job.Result)
	}
}

func TestPoolRejectsNonJSONResult(t *testing.T) {
	h := newHarness(t, 1, 0)
	_ = h.handlers.Register("plain", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage("plain text summary"), nil
	})
	h.start(t)
	h.submit(t, "job-1", "plain")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusFailed || job.Result != nil {
		t.Fatalf("expected failed without result, got %s result=%s", job.Status, job.Result)
	}
	if job.ErrorKind != string(services.KindCollaborator) || job.Error == "" {
		t.Fatalf("unexpected error classification: kind=%q error=%q", job.ErrorKind, job.Error)
	}
	if _, err := json.Marshal(job); err != nil {
		t.Fatalf("failed job must stay encodable: %v", err)
	}
}

func TestPoolWithoutChainStillRecoversPanic(t *testing.T) {
	logger := logging.NewNop()
	reg := queue.NewRegistry(logger)
	hr := handlers.NewRegistry()
	_ = hr.Register("boom", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})
	_ = hr.Register("fine", ok)
	pool := workflow.NewPool(workflow.PoolConfig{Class: testClass}, reg, hr, nil, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, pair := range [][2]string{{"job-1", "boom"}, {"job-2", "fine"}} {
		if _, err := reg.Create(queue.Job{ID: pair[0], Kind: pair[1], Class: testClass, Payload: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Create %s: %v", pair[0], err)
		}
		if err := pool.Submit(pair[0]); err != nil {
			t.Fatalf("Submit %s: %v", pair[0], err)
		}
	}

	if job := waitTerminal(t, reg, "job-1"); job.Status != queue.StatusFailed {
		t.Fatalf("expected panic to fail the job, got %s", job.Status)
	}
	if job := waitTerminal(t, reg, "job-2"); job.Status != queue.StatusCompleted {
		t.Fatalf("worker died after panic: %s", job.Status)
	}
}

func TestPoolRunsFIFOWithoutOverlapAtConcurrencyOne(t *testing.T) {
	h := newHarness(t, 1, 0)
	var mu sync.Mutex
	var order []string
	_ = h.handlers.Register("record", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		id, _ := services.JobIDFromContext(ctx)
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return json.RawMessage(`1`), nil
	})

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		h.submit(t, id, "record")
	}
	h.start(t)

	jobs := make([]queue.Job, len(ids))
	for i, id := range ids {
		jobs[i] = waitTerminal(t, h.registry, id)
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != fmt.Sprint(ids) {
		t.Fatalf("execution order = %v, want %v", order, ids)
	}
	for i := 1; i < len(jobs); i++ {
		prev, cur := jobs[i-1], jobs[i]
		if cur.StartedAt.Before(*prev.StartedAt) {
			t.Fatalf("%s started before %s", cur.ID, prev.ID)
		}
		if cur.StartedAt.Before(*prev.CompletedAt) {
			t.Fatalf("processing windows overlap: %s started %s, %s finished %s",
				cur.ID, cur.StartedAt, prev.ID, prev.CompletedAt)
		}
	}
}

func TestPoolNeverExceedsConcurrency(t *testing.T) {
	const limit = 2
	h := newHarness(t, limit, 0)
	var active, peak int32
	_ = h.handlers.Register("busy", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return json.RawMessage(`true`), nil
	})

	h.start(t)
	var ids []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("job-%d", i)
		ids = append(ids, id)
		h.submit(t, id, "busy")
	}
	for _, id := range ids {
		if job := waitTerminal(t, h.registry, id); job.Status != queue.StatusCompleted {
			t.Fatalf("job %s: %s", id, job.Error)
		}
	}
	if got := atomic.LoadInt32(&peak); got > limit {
		t.Fatalf("peak concurrency %d exceeds %d", got, limit)
	}
	if stats := h.pool.Stats(); stats.Active != 0 || stats.Pending != 0 {
		t.Fatalf("expected idle pool, got %+v", stats)
	}
}

func TestPoolUnknownKindFailsWithDispatchError(t *testing.T) {
	h := newHarness(t, 1, 0)
	_ = h.handlers.Register("X", ok)
	h.start(t)
	h.submit(t, "job-1", "Y")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind != string(services.KindDispatch) {
		t.Fatalf("expected dispatch error, got %q (%s)", job.ErrorKind, job.Error)
	}
	if job.Result != nil {
		t.Fatalf("failed job carries result %s", job.Result)
	}

	h.submit(t, "job-2", "X")
	if next := waitTerminal(t, h.registry, "job-2"); next.Status != queue.StatusCompleted {
		t.Fatalf("pool did not survive dispatch failure: %s", next.Status)
	}
}

func TestPoolRecoversHandlerPanic(t *testing.T) {
	h := newHarness(t, 1, 0)
	_ = h.handlers.Register("boom", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})
	_ = h.handlers.Register("fine", ok)
	h.start(t)
	h.submit(t, "job-1", "boom")
	h.submit(t, "job-2", "fine")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusFailed || job.Error == "" {
		t.Fatalf("expected failed with message, got %+v", job)
	}
	if next := waitTerminal(t, h.registry, "job-2"); next.Status != queue.StatusCompleted {
		t.Fatalf("worker died after panic: %s", next.Status)
	}
}

func TestPoolHandlerErrorMarksFailed(t *testing.T) {
	h := newHarness(t, 1, 0)
	_ = h.handlers.Register("bad", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, services.Wrap(services.ErrCollaborator, "summarize", "call", "llm unavailable", errors.New("503"))
	})
	h.start(t)
	h.submit(t, "job-1", "bad")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusFailed || job.ErrorKind != string(services.KindCollaborator) {
		t.Fatalf("unexpected outcome: %+v", job)
	}
}

func TestPoolJobTimeout(t *testing.T) {
	h := newHarness(t, 1, 30*time.Millisecond)
	_ = h.handlers.Register("hang", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h.start(t)
	h.submit(t, "job-1", "hang")

	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusFailed || job.ErrorKind != string(services.KindTimeout) {
		t.Fatalf("expected timeout failure, got %s %q (%s)", job.Status, job.ErrorKind, job.Error)
	}
}

func TestPoolHeartbeatRefreshesRecord(t *testing.T) {
	h := newHarness(t, 1, 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	h.registry.SetClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) })

	seen := make(chan *time.Time, 1)
	_ = h.handlers.Register("beat", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		id, _ := services.JobIDFromContext(ctx)
		before, _ := h.registry.Get(id)
		services.Heartbeat(ctx)
		after, _ := h.registry.Get(id)
		if after.LastHeartbeat.After(*before.LastHeartbeat) {
			seen <- after.LastHeartbeat
		} else {
			seen <- nil
		}
		return json.RawMessage(`1`), nil
	})
	h.start(t)
	h.submit(t, "job-1", "beat")
	waitTerminal(t, h.registry, "job-1")
	if ts := <-seen; ts == nil {
		t.Fatal("heartbeat did not advance")
	}
}

func TestPoolStopFailsInFlightAndRejectsSubmit(t *testing.T) {
	h := newHarness(t, 1, 0)
	started := make(chan struct{})
	_ = h.handlers.Register("wait", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h.start(t)
	h.submit(t, "job-1", "wait")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	job := waitTerminal(t, h.registry, "job-1")
	if job.Status != queue.StatusFailed || job.ErrorKind != string(services.KindCanceled) {
		t.Fatalf("expected canceled failure, got %s %q", job.Status, job.ErrorKind)
	}

	if _, err := h.registry.Create(queue.Job{ID: "late", Kind: "wait", Class: testClass}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.pool.Submit("late"); !errors.Is(err, workflow.ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPoolSkipsJobsThatCannotBeClaimed(t *testing.T) {
	h := newHarness(t, 1, 0)
	_ = h.handlers.Register("fine", ok)
	h.start(t)

	if err := h.pool.Submit("ghost"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.submit(t, "job-1", "fine")
	if job := waitTerminal(t, h.registry, "job-1"); job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if h.pool.LastError() == nil {
		t.Fatal("expected claim error to be recorded")
	}
}
