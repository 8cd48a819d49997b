package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"framewise/internal/analysis"
	"framewise/internal/config"
	"framewise/internal/daemon"
	"framewise/internal/engine"
	"framewise/internal/history"
	"framewise/internal/ingest"
	"framewise/internal/logging"
	"framewise/internal/media/ffmpeg"
	"framewise/internal/media/ffprobe"
	"framewise/internal/notifications"
	"framewise/internal/pipeline"
	"framewise/internal/services/llm"
	"framewise/internal/services/whisperx"
	"framewise/internal/staging"
	"framewise/internal/statusmirror"
	"framewise/internal/textgen"
)

const observerBuffer = 256

// Runtime is a fully wired daemon plus the resources it owns.
type Runtime struct {
	Engine  *engine.Engine
	Daemon  *daemon.Daemon
	History *history.Store

	closers []func() error
}

// Close releases resources opened by Build. Call it after the daemon stops.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Build constructs collaborators, registers every job kind, and attaches
// the optional history archive, status mirror, and notifications.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	rt := &Runtime{}
	var daemonOpts []daemon.Option

	client := llm.NewFromSettings(cfg.LLM)
	acquirer, err := newAcquirer(cfg, logger)
	if err != nil {
		return nil, err
	}
	extractor := ffmpeg.New(cfg.Pipeline.FFmpegBinary)
	p, err := pipeline.New(pipeline.OptionsFromConfig(cfg), pipeline.Collaborators{
		Acquirer: acquirer,
		Prober:   ffprobe.NewProber(cfg.Pipeline.FFprobeBinary),
		Frames:   extractor,
		Audio:    extractor,
		Transcriber: whisperx.NewService(whisperx.Config{
			UVXBinary:   cfg.Transcription.UVXBinary,
			Model:       cfg.Transcription.Model,
			Language:    cfg.Transcription.Language,
			CUDAEnabled: cfg.Transcription.CUDAEnabled,
			VADMethod:   cfg.Transcription.VADMethod,
			HFToken:     strings.TrimSpace(os.Getenv("HF_TOKEN")),
		}),
		Vision:     analysis.NewVision(client, logger),
		Summarizer: analysis.NewSummarizer(client),
	}, logger)
	if err != nil {
		return nil, err
	}

	eng := engine.New(cfg, logger)
	if err := p.Register(eng.Handlers()); err != nil {
		return nil, fmt.Errorf("register pipeline: %w", err)
	}
	if err := textgen.Register(eng.Handlers(), client); err != nil {
		return nil, fmt.Errorf("register text generation: %w", err)
	}
	rt.Engine = eng

	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.HistoryPath())
		if err != nil {
			return nil, err
		}
		rt.History = store
		rt.closers = append(rt.closers, store.Close)
		recorder := history.NewRecorder(store, logger, observerBuffer)
		eng.AddObserver(recorder)
		daemonOpts = append(daemonOpts, daemon.WithHistory(store), daemon.WithWorker(recorder.Run))
	}

	if strings.TrimSpace(cfg.Redis.URL) != "" {
		mirror, err := statusmirror.Open(ctx, cfg.Redis, logger)
		if err != nil {
			logging.WarnWithContext(logger, "status mirror unavailable", "status_mirror_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis.url and that redis is reachable"),
				logging.String(logging.FieldImpact, "job status will not be published to redis"),
			)
		} else {
			rt.closers = append(rt.closers, mirror.Close)
			eng.AddObserver(mirror)
			daemonOpts = append(daemonOpts, daemon.WithWorker(mirror.Run))
		}
	}

	notifier := notifications.NewObserver(notifications.NewService(cfg), cfg.Notifications, logger)
	eng.AddObserver(notifier)
	daemonOpts = append(daemonOpts, daemon.WithWorker(notifier.Run))

	if age := config.Seconds(cfg.Pipeline.StaleRunAge); age > 0 {
		daemonOpts = append(daemonOpts, daemon.WithWorker(staleRunSweeper(cfg.Paths.WorkDir, age, logger)))
	}

	d, err := daemon.New(cfg, eng, logger, daemonOpts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Daemon = d
	return rt, nil
}

func newAcquirer(cfg *config.Config, logger *slog.Logger) (*ingest.Acquirer, error) {
	opts := []ingest.Option{ingest.WithMaxBytes(int64(cfg.Pipeline.MaxDownloadMiB) << 20)}
	if strings.TrimSpace(cfg.Storage.Endpoint) != "" {
		store, err := ingest.NewMinioStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ingest.WithObjectStore(store))
	}
	return ingest.New(logger, opts...), nil
}

// staleRunSweeper removes run directories abandoned by a crashed process,
// once at startup and then every quarter of maxAge.
func staleRunSweeper(workDir string, maxAge time.Duration, logger *slog.Logger) func(context.Context) {
	interval := max(maxAge/4, time.Minute)
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			staging.CleanStale(ctx, workDir, maxAge, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
