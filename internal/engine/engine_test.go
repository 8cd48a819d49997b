package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"framewise/internal/config"
	"framewise/internal/engine"
	"framewise/internal/handlers"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
)

func newEngine(t *testing.T, mutate func(*config.Config)) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	eng := engine.New(&cfg, logging.NewNop(), engine.WithMiddleware(handlers.Chain(handlers.Recover(logging.NewNop()))))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}

func waitFor(t *testing.T, eng *engine.Engine, id string) queue.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := eng.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return queue.Job{}
}

type echoIn struct {
	Message string `json:"message"`
}

type echoOut struct {
	Echo string `json:"echo"`
}

func TestEnqueueRunsHandler(t *testing.T) {
	eng := newEngine(t, nil)
	err := handlers.RegisterTyped(eng.Handlers(), config.KindGenerateTasks, func(_ context.Context, in echoIn) (echoOut, error) {
		return echoOut{Echo: in.Message}, nil
	})
	if err != nil {
		t.Fatalf("RegisterTyped: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := eng.Enqueue(context.Background(), config.KindGenerateTasks, json.RawMessage(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	job := waitFor(t, eng, id)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.Class != config.ClassTextB {
		t.Fatalf("expected class %s, got %s", config.ClassTextB, job.Class)
	}
	var out echoOut
	if err := json.Unmarshal(job.Result, &out); err != nil || out.Echo != "hi" {
		t.Fatalf("unexpected result %s: %v", job.Result, err)
	}
}

func TestEnqueueDoesNotWaitForExecution(t *testing.T) {
	eng := newEngine(t, nil)
	release := make(chan struct{})
	_ = eng.RegisterHandler("slow", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return json.RawMessage(`1`), nil
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, _ := eng.Enqueue(context.Background(), "slow", nil)
	second, err := eng.Enqueue(context.Background(), "slow", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := eng.GetStatus(second)
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected second job queued behind first, got %s", job.Status)
	}
	close(release)
	waitFor(t, eng, first)
	waitFor(t, eng, second)
}

func TestEnqueueWithDuplicateIDRejected(t *testing.T) {
	eng := newEngine(t, nil)
	_ = eng.RegisterHandler(config.KindGenerateSpecification, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"spec"`), nil
	})
	if err := eng.EnqueueWithID(context.Background(), "fixed", config.KindGenerateSpecification, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("EnqueueWithID: %v", err)
	}
	err := eng.EnqueueWithID(context.Background(), "fixed", config.KindGenerateTasks, json.RawMessage(`{"b":2}`))
	if !errors.Is(err, services.ErrRegistry) {
		t.Fatalf("expected registry error, got %v", err)
	}

	job, err := eng.GetStatus("fixed")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if job.Kind != config.KindGenerateSpecification || string(job.Payload) != `{"a":1}` {
		t.Fatalf("first job modified: %+v", job)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if done := waitFor(t, eng, "fixed"); done.Status != queue.StatusCompleted {
		t.Fatalf("first job: %s", done.Status)
	}
}

func TestUnregisteredKindFailsWithDispatchError(t *testing.T) {
	eng := newEngine(t, nil)
	_ = eng.RegisterHandler("X", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := eng.Enqueue(context.Background(), "Y", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job := waitFor(t, eng, id)
	if job.Status != queue.StatusFailed || job.ErrorKind != string(services.KindDispatch) {
		t.Fatalf("expected dispatch failure, got %s %q", job.Status, job.ErrorKind)
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	eng := newEngine(t, nil)
	if _, err := eng.Enqueue(context.Background(), "  ", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty kind, got %v", err)
	}
	if _, err := eng.Enqueue(context.Background(), "x", json.RawMessage(`{nope`)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad payload, got %v", err)
	}
	if eng.Stats().Jobs.Total != 0 {
		t.Fatal("rejected submissions must not create records")
	}
}

func TestEnqueueUnknownRouteIsConfigurationError(t *testing.T) {
	eng := newEngine(t, func(cfg *config.Config) {
		cfg.Engine.Routes["orphan"] = "missing-class"
	})
	if _, err := eng.Enqueue(context.Background(), "orphan", nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGetStatusUnknownID(t *testing.T) {
	eng := newEngine(t, nil)
	if _, err := eng.GetStatus("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterAfterStartRejected(t *testing.T) {
	eng := newEngine(t, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := eng.RegisterHandler("late", func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	if !errors.Is(err, services.ErrRegistry) {
		t.Fatalf("expected registry error, got %v", err)
	}
	if err := eng.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestEnqueueAfterStopRollsBack(t *testing.T) {
	eng := newEngine(t, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.EnqueueWithID(context.Background(), "after-stop", config.KindMediaProcess, nil); err == nil {
		t.Fatal("expected submit after stop to fail")
	}
	if _, err := eng.GetStatus("after-stop"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected rolled back record, got %v", err)
	}
}

func TestSingleWorkerClassNeverOverlaps(t *testing.T) {
	eng := newEngine(t, nil)
	var mu sync.Mutex
	active, peak := 0, 0
	_ = eng.RegisterHandler(config.KindMediaProcess, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return json.RawMessage(`{}`), nil
	})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := eng.Enqueue(context.Background(), config.KindMediaProcess, nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var jobs []queue.Job
	for _, id := range ids {
		jobs = append(jobs, waitFor(t, eng, id))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].StartedAt.Before(*jobs[i-1].CompletedAt) {
			t.Fatalf("jobs %s and %s overlap", jobs[i-1].ID, jobs[i].ID)
		}
	}
	if peak != 1 {
		t.Fatalf("peak concurrency = %d, want 1", peak)
	}
}

func TestObserverSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []queue.Status
	observer := queue.ObserverFunc(func(job queue.Job) {
		mu.Lock()
		seen = append(seen, job.Status)
		mu.Unlock()
	})
	cfg := config.Default()
	eng := engine.New(&cfg, nil, engine.WithObserver(observer), engine.WithMiddleware(handlers.Chain()))
	defer eng.Stop(context.Background())
	_ = eng.RegisterHandler("x", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, _ := eng.Enqueue(context.Background(), "x", nil)
	waitFor(t, eng, id)

	// Observers run after the commit, so the last notification can trail the poll.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []queue.Status{queue.StatusQueued, queue.StatusProcessing, queue.StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observed %v, want %v", seen, want)
		}
	}
}

func TestEvictNowDropsFinishedJobs(t *testing.T) {
	eng := newEngine(t, func(cfg *config.Config) {
		cfg.Retention.MaxAge = 0
		cfg.Retention.MaxJobs = 1
	})
	_ = eng.RegisterHandler("x", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, _ := eng.Enqueue(context.Background(), "x", nil)
	waitFor(t, eng, first)
	second, _ := eng.Enqueue(context.Background(), "x", nil)
	waitFor(t, eng, second)

	evicted := eng.EvictNow()
	if len(evicted) != 1 || evicted[0] != first {
		t.Fatalf("expected %s evicted, got %v", first, evicted)
	}
	if _, err := eng.GetStatus(first); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected evicted job not found, got %v", err)
	}
}
