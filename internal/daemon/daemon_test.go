package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"framewise/internal/api"
	"framewise/internal/config"
	"framewise/internal/daemon"
	"framewise/internal/engine"
	"framewise/internal/handlers"
	"framewise/internal/history"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
	"framewise/internal/testsupport"
)

type sourceIn struct {
	Source string `json:"source"`
}

type sourceOut struct {
	Summary string `json:"summary"`
}

func newEngine(t *testing.T, cfg *config.Config) *engine.Engine {
	t.Helper()
	eng := engine.New(cfg, logging.NewNop())
	err := handlers.RegisterTyped(eng.Handlers(), config.KindMediaProcess, func(_ context.Context, in sourceIn) (sourceOut, error) {
		if in.Source == "" {
			return sourceOut{}, services.Wrap(services.ErrValidation, "test", "run", "source required", nil)
		}
		return sourceOut{Summary: "processed " + in.Source}, nil
	})
	if err != nil {
		t.Fatalf("register handler: %v", err)
	}
	return eng
}

func stopDaemon(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	d, err := daemon.New(cfg, newEngine(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Running() {
		t.Fatal("expected daemon running")
	}
	if d.APIAddress() != "" {
		t.Fatalf("expected API disabled, got %q", d.APIAddress())
	}
	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}
	status := d.Status(context.Background())
	if !status.Running || status.StartedAt == nil {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Kinds) != 1 || status.Kinds[0] != config.KindMediaProcess {
		t.Fatalf("unexpected kinds: %v", status.Kinds)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	stopDaemon(t, d)
	if d.Running() {
		t.Fatal("expected daemon stopped")
	}
	if _, err := os.Stat(cfg.PIDPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
}

func TestDaemonStatusReportsStartupDependencySnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI(), testsupport.WithStubbedBinaries())
	d, err := daemon.New(cfg, newEngine(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.RemoveAll(filepath.Join(testsupport.BaseDir(cfg), "bin")); err != nil {
		t.Fatalf("remove stub binaries: %v", err)
	}
	status := d.Status(context.Background())
	found := false
	for _, dep := range status.Dependencies {
		if dep.Command == cfg.Pipeline.FFmpegBinary {
			found = true
			if !dep.Available {
				t.Fatalf("expected ffmpeg available in startup snapshot: %+v", dep)
			}
		}
	}
	if !found {
		t.Fatalf("ffmpeg missing from dependencies: %+v", status.Dependencies)
	}

	stopDaemon(t, d)
	if status := d.Status(context.Background()); status.Running || status.StartedAt != nil {
		t.Fatalf("expected stopped status, got %+v", status)
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	first, err := daemon.New(cfg, newEngine(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopDaemon(t, first)

	second, err := daemon.New(cfg, newEngine(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}
}

func TestDaemonWorkersStopWithDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	done := make(chan struct{})
	d, err := daemon.New(cfg, newEngine(t, cfg), logging.NewNop(), daemon.WithWorker(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopDaemon(t, d)
	select {
	case <-done:
	default:
		t.Fatal("worker still running after Stop")
	}
}

func TestDaemonServesJobsOverAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("secret"))
	ctx := context.Background()

	store, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	recorder := history.NewRecorder(store, logging.NewNop(), 16)

	eng := newEngine(t, cfg)
	eng.AddObserver(recorder)
	d, err := daemon.New(cfg, eng, logging.NewNop(), daemon.WithHistory(store), daemon.WithWorker(recorder.Run))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopDaemon(t, d)

	client, err := api.NewClient(d.APIAddress(), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id, err := client.Submit(waitCtx, api.SubmitRequest{ID: "clip-1", Kind: config.KindMediaProcess, Payload: []byte(`{"source":"/tmp/clip.mp4"}`)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "clip-1" {
		t.Fatalf("id = %q", id)
	}
	job, err := client.WaitForTerminal(waitCtx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (%s)", job.Status, job.Error)
	}

	_, err = client.Submit(waitCtx, api.SubmitRequest{ID: "clip-1", Kind: config.KindMediaProcess})
	if services.KindOf(err) != services.KindRegistry {
		t.Fatalf("expected registry error for duplicate id, got %v", err)
	}

	failedID, err := client.Submit(waitCtx, api.SubmitRequest{Kind: config.KindMediaProcess, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed, err := client.WaitForTerminal(waitCtx, failedID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if failed.Status != queue.StatusFailed || failed.ErrorKind != string(services.KindValidation) {
		t.Fatalf("unexpected failed job: %+v", failed)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.History(waitCtx, api.HistoryQuery{})
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(resp.Entries) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history has %d entries, want 2", len(resp.Entries))
		}
		time.Sleep(10 * time.Millisecond)
	}

	unauthorized, err := api.NewClient(d.APIAddress(), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := unauthorized.Status(waitCtx); err == nil {
		t.Fatal("expected unauthorized error without token")
	}
}
