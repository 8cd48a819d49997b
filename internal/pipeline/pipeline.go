package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"framewise/internal/config"
	"framewise/internal/handlers"
	"framewise/internal/ingest"
	"framewise/internal/logging"
	"framewise/internal/media"
	"framewise/internal/services"
	"framewise/internal/staging"
)

// Stage names, also used as keys for stage deadlines.
const (
	StageAcquire    = "acquire"
	StageValidate   = "validate"
	StageProbe      = "probe"
	StageFrames     = "frames"
	StageAudio      = "audio"
	StageTranscribe = "transcribe"
	StageVision     = "vision"
	StageSummarize  = "summarize"
)

// Prober reads container metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Metadata, error)
}

// FrameExtractor writes a single still at timestamp seconds to dest.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, source string, timestamp float64, dest string) error
}

// AudioExtractor writes a mono 16 kHz PCM WAV track to dest.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, source, dest string) error
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// VisualAnalyzer annotates each frame with the elements it shows. It must
// return one annotation per frame, in frame order.
type VisualAnalyzer interface {
	Analyze(ctx context.Context, frames []media.Frame) ([]media.FrameAnnotation, error)
}

// Summarizer combines transcript, annotations, and metadata into prose.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, annotations []media.FrameAnnotation, meta media.Metadata) (string, error)
}

// Acquirer fetches remote sources into destDir and returns the local path.
type Acquirer interface {
	Acquire(ctx context.Context, source, destDir string) (string, error)
}

// Collaborators bundles the pipeline's external capabilities. Acquirer is
// optional; without it only local sources are accepted.
type Collaborators struct {
	Acquirer    Acquirer
	Prober      Prober
	Frames      FrameExtractor
	Audio       AudioExtractor
	Transcriber Transcriber
	Vision      VisualAnalyzer
	Summarizer  Summarizer
}

func (c Collaborators) validate() error {
	var missing []string
	if c.Prober == nil {
		missing = append(missing, "prober")
	}
	if c.Frames == nil {
		missing = append(missing, "frame extractor")
	}
	if c.Audio == nil {
		missing = append(missing, "audio extractor")
	}
	if c.Transcriber == nil {
		missing = append(missing, "transcriber")
	}
	if c.Vision == nil {
		missing = append(missing, "visual analyzer")
	}
	if c.Summarizer == nil {
		missing = append(missing, "summarizer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing collaborators: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Options tunes sampling and deadlines.
type Options struct {
	WorkDir             string
	SupportedExtensions []string
	MinFrames           int
	MaxFrames           int
	SecondsPerFrame     float64
	FrameConcurrency    int
	StageTimeouts       map[string]time.Duration
}

// OptionsFromConfig maps the [pipeline] and [paths] sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	timeouts := make(map[string]time.Duration)
	for _, stage := range []string{StageAcquire, StageValidate, StageProbe, StageFrames, StageAudio, StageTranscribe, StageVision, StageSummarize} {
		if d := cfg.StageTimeout(stage); d > 0 {
			timeouts[stage] = d
		}
	}
	return Options{
		WorkDir:             cfg.Paths.WorkDir,
		SupportedExtensions: slices.Clone(cfg.Pipeline.SupportedExtensions),
		MinFrames:           cfg.Pipeline.MinFrames,
		MaxFrames:           cfg.Pipeline.MaxFrames,
		SecondsPerFrame:     float64(cfg.Pipeline.SecondsPerFrame),
		FrameConcurrency:    cfg.Pipeline.FrameConcurrency,
		StageTimeouts:       timeouts,
	}
}

func (o Options) normalized() Options {
	if o.MinFrames <= 0 {
		o.MinFrames = 5
	}
	if o.MaxFrames < o.MinFrames {
		o.MaxFrames = max(o.MinFrames, 10)
	}
	if o.SecondsPerFrame <= 0 {
		o.SecondsPerFrame = 10
	}
	if o.FrameConcurrency <= 0 {
		o.FrameConcurrency = 1
	}
	exts := make([]string, 0, len(o.SupportedExtensions))
	for _, ext := range o.SupportedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	o.SupportedExtensions = exts
	return o
}

// Request is the media-process payload.
type Request struct {
	Source string `json:"source"`
}

// Result is stored as the job result of a completed media-process job.
type Result struct {
	Transcription  string                  `json:"transcription"`
	VisualElements []media.FrameAnnotation `json:"visualElements"`
	Summary        string                  `json:"summary"`
	Metadata       media.Metadata          `json:"metadata"`
}

// Pipeline runs media-process jobs.
type Pipeline struct {
	opts   Options
	c      Collaborators
	logger *slog.Logger
	tracer trace.Tracer
}

// New validates collaborators and returns a pipeline.
func New(opts Options, c Collaborators, logger *slog.Logger) (*Pipeline, error) {
	if err := c.validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "incomplete collaborators", err)
	}
	opts = opts.normalized()
	if strings.TrimSpace(opts.WorkDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "work dir required", nil)
	}
	return &Pipeline{
		opts:   opts,
		c:      c,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		tracer: otel.Tracer("framewise/internal/pipeline"),
	}, nil
}

// Register binds Run to the media-process kind.
func (p *Pipeline) Register(reg *handlers.Registry) error {
	return handlers.RegisterTyped(reg, config.KindMediaProcess, p.Run)
}

// Run executes every stage in order. The run directory and all artifacts in
// it are removed before Run returns.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return Result{}, services.Wrap(services.ErrValidation, StageValidate, "source", "source is required", nil)
	}
	jobID, _ := services.JobIDFromContext(ctx)

	var run *staging.Run
	defer func() {
		if run != nil {
			p.cleanup(ctx, run)
		}
	}()

	path := source
	if ingest.Classify(source) != ingest.SourceLocal {
		if p.c.Acquirer == nil {
			return Result{}, services.Wrap(services.ErrValidation, StageAcquire, "source", "remote sources are not enabled", nil)
		}
		var err error
		if run, err = p.newRun(jobID); err != nil {
			return Result{}, err
		}
		if path, err = p.acquire(ctx, source, run); err != nil {
			return Result{}, err
		}
	}

	if err := p.validate(ctx, path); err != nil {
		return Result{}, err
	}
	meta, err := p.probe(ctx, path)
	if err != nil {
		return Result{}, err
	}

	if run == nil {
		if run, err = p.newRun(jobID); err != nil {
			return Result{}, err
		}
	}

	frames, err := p.sampleFrames(ctx, path, meta, run)
	if err != nil {
		return Result{}, err
	}
	transcript, err := p.transcribe(ctx, path, meta, run)
	if err != nil {
		return Result{}, err
	}
	annotations, err := p.analyze(ctx, frames)
	if err != nil {
		return Result{}, err
	}
	summary, err := p.summarize(ctx, transcript, annotations, meta)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Transcription:  transcript,
		VisualElements: annotations,
		Summary:        summary,
		Metadata:       meta,
	}, nil
}

func (p *Pipeline) newRun(jobID string) (*staging.Run, error) {
	run, err := staging.NewRun(p.opts.WorkDir, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "staging", "cannot create run directory", err)
	}
	return run, nil
}

func (p *Pipeline) acquire(ctx context.Context, source string, run *staging.Run) (string, error) {
	var path string
	err := p.stage(ctx, StageAcquire, func(ctx context.Context) error {
		local, err := p.c.Acquirer.Acquire(ctx, source, run.Dir())
		if err != nil {
			if errors.Is(err, ingest.ErrTooLarge) {
				return services.Wrap(services.ErrValidation, StageAcquire, "download", "source exceeds download limit", err)
			}
			return services.WrapStage(ctx, services.ErrCollaborator, StageAcquire, "download", "fetch remote source", err)
		}
		run.Track(local)
		path = local
		return nil
	})
	return path, err
}

func (p *Pipeline) validate(ctx context.Context, path string) error {
	return p.stage(ctx, StageValidate, func(ctx context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return services.Wrap(services.ErrValidation, StageValidate, "stat", "source file not found", err)
			}
			return services.Wrap(services.ErrValidation, StageValidate, "stat", "source file unreadable", err)
		}
		if !info.Mode().IsRegular() {
			return services.Wrap(services.ErrValidation, StageValidate, "stat", "source is not a regular file", nil)
		}
		if !p.supported(path) {
			return services.Wrap(services.ErrValidation, StageValidate, "extension",
				fmt.Sprintf("unsupported container %q", filepath.Ext(path)), nil)
		}
		return nil
	})
}

func (p *Pipeline) supported(path string) bool {
	if len(p.opts.SupportedExtensions) == 0 {
		return true
	}
	return slices.Contains(p.opts.SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

func (p *Pipeline) probe(ctx context.Context, path string) (media.Metadata, error) {
	var meta media.Metadata
	err := p.stage(ctx, StageProbe, func(ctx context.Context) error {
		m, err := p.c.Prober.Probe(ctx, path)
		if err != nil {
			if errors.Is(err, media.ErrNoVideoStream) {
				return services.Wrap(services.ErrValidation, StageValidate, "probe", "source has no video stream", err)
			}
			return services.WrapStage(ctx, services.ErrExternalTool, StageProbe, "ffprobe", "probe failed", err)
		}
		if m.DurationSeconds <= 0 || math.IsNaN(m.DurationSeconds) || math.IsInf(m.DurationSeconds, 0) {
			return services.Wrap(services.ErrExternalTool, StageProbe, "ffprobe", "probe reported no duration", nil)
		}
		if m.Width <= 0 || m.Height <= 0 {
			return services.Wrap(services.ErrExternalTool, StageProbe, "ffprobe", "probe reported no frame geometry", nil)
		}
		meta = m
		return nil
	})
	return meta, err
}

// FrameCount returns clamp(ceil(duration/secondsPerFrame), min, max).
func FrameCount(duration, secondsPerFrame float64, minFrames, maxFrames int) int {
	if secondsPerFrame <= 0 {
		return minFrames
	}
	n := int(math.Ceil(duration / secondsPerFrame))
	return min(max(n, minFrames), maxFrames)
}

// FrameTimestamps spaces count timestamps evenly inside (0, duration).
func FrameTimestamps(duration float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = duration * float64(i+1) / float64(count+1)
	}
	return out
}

func (p *Pipeline) sampleFrames(ctx context.Context, path string, meta media.Metadata, run *staging.Run) ([]media.Frame, error) {
	count := FrameCount(meta.DurationSeconds, p.opts.SecondsPerFrame, p.opts.MinFrames, p.opts.MaxFrames)
	timestamps := FrameTimestamps(meta.DurationSeconds, count)
	frames := make([]media.Frame, count)

	err := p.stage(ctx, StageFrames, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.FrameConcurrency)
		for i, ts := range timestamps {
			dest := run.Path(fmt.Sprintf("frame-%03d.jpg", i+1))
			g.Go(func() (err error) {
				// Extraction runs off the worker goroutine, outside the handler's
				// recover middleware.
				defer func() {
					if r := recover(); r != nil {
						err = services.Wrap(services.ErrExternalTool, StageFrames, "ffmpeg",
							fmt.Sprintf("panic extracting frame %d: %v", i+1, r), nil)
					}
				}()
				if err := p.c.Frames.ExtractFrame(gctx, path, ts, dest); err != nil {
					return services.WrapStage(gctx, services.ErrExternalTool, StageFrames, "ffmpeg",
						fmt.Sprintf("extract frame %d at %.3fs", i+1, ts), err)
				}
				frames[i] = media.Frame{Index: i, Timestamp: ts, Path: dest}
				services.Heartbeat(gctx)
				return nil
			})
		}
		return g.Wait()
	}, attribute.Int("framewise.frames", count))
	if err != nil {
		return nil, err
	}
	return frames, nil
}

func (p *Pipeline) transcribe(ctx context.Context, path string, meta media.Metadata, run *staging.Run) (string, error) {
	if !meta.HasAudio {
		logging.WithContext(ctx, p.logger).Info("source has no audio stream; skipping transcription",
			logging.String(logging.FieldEventType, "stage_skipped"),
		)
		return "", nil
	}
	audioPath := run.Path("audio.wav")
	err := p.stage(ctx, StageAudio, func(ctx context.Context) error {
		if err := p.c.Audio.ExtractAudio(ctx, path, audioPath); err != nil {
			return services.WrapStage(ctx, services.ErrExternalTool, StageAudio, "ffmpeg", "extract audio", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	var transcript string
	err = p.stage(ctx, StageTranscribe, func(ctx context.Context) error {
		text, err := p.c.Transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			return services.WrapStage(ctx, services.ErrCollaborator, StageTranscribe, "transcriber", "transcription failed", err)
		}
		transcript = strings.TrimSpace(text)
		return nil
	})
	return transcript, err
}

func (p *Pipeline) analyze(ctx context.Context, frames []media.Frame) ([]media.FrameAnnotation, error) {
	var annotations []media.FrameAnnotation
	err := p.stage(ctx, StageVision, func(ctx context.Context) error {
		got, err := p.c.Vision.Analyze(ctx, frames)
		if err != nil {
			return services.WrapStage(ctx, services.ErrCollaborator, StageVision, "analyzer", "visual analysis failed", err)
		}
		if len(got) != len(frames) {
			return services.Wrap(services.ErrCollaborator, StageVision, "analyzer",
				fmt.Sprintf("expected %d annotations, got %d", len(frames), len(got)), nil)
		}
		annotations = make([]media.FrameAnnotation, len(got))
		for i, a := range got {
			if a.Elements == nil {
				a.Elements = []string{}
			}
			annotations[i] = a
		}
		return nil
	})
	return annotations, err
}

func (p *Pipeline) summarize(ctx context.Context, transcript string, annotations []media.FrameAnnotation, meta media.Metadata) (string, error) {
	var summary string
	err := p.stage(ctx, StageSummarize, func(ctx context.Context) error {
		text, err := p.c.Summarizer.Summarize(ctx, transcript, annotations, meta)
		if err != nil {
			return services.WrapStage(ctx, services.ErrCollaborator, StageSummarize, "summarizer", "summary failed", err)
		}
		summary = strings.TrimSpace(text)
		return nil
	})
	return summary, err
}

// stage runs fn under the stage deadline, a tracing span, and start/finish logs.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	stageCtx := services.WithStage(ctx, name)
	if d := p.opts.StageTimeouts[name]; d > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, d)
		defer cancel()
	}
	stageCtx, span := p.tracer.Start(stageCtx, "pipeline."+name, trace.WithAttributes(attrs...))
	defer span.End()

	log := logging.WithContext(stageCtx, p.logger)
	log.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	services.Heartbeat(stageCtx)

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.WarnWithContext(log, "stage failed", "stage_failed",
			logging.Duration("elapsed", elapsed),
			logging.String("error_kind", string(services.KindOf(err))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "job will be marked failed"),
		)
		return err
	}
	span.SetStatus(codes.Ok, "")
	log.Info("stage completed",
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return nil
}

func (p *Pipeline) cleanup(ctx context.Context, run *staging.Run) {
	log := logging.WithContext(ctx, p.logger)
	result := run.Cleanup()
	for _, failure := range result.Errors {
		logging.WarnWithContext(log, "failed to remove pipeline artifact", "pipeline_cleanup_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldErrorHint, "remove the path manually or let the stale sweep reclaim it"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	}
	log.Debug("run directory cleaned",
		logging.String("run_dir", run.Dir()),
		logging.Int("removed", result.Removed),
		logging.String(logging.FieldEventType, "pipeline_cleanup"),
	)
}
