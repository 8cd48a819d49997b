package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"framewise/internal/media"
)

// OutputRunner executes a command and returns its stdout.
type OutputRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
	BitRate   string `json:"bit_rate"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against path and decodes the JSON response.
func Inspect(ctx context.Context, run OutputRunner, binary, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}
	if run == nil {
		run = execOutput
	}

	output, err := run(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return output, nil
}

// VideoStream returns the first video stream.
func (r Result) VideoStream() (Stream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream, true
		}
	}
	return Stream{}, false
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration, falling back to the video
// stream duration. Missing or unparseable values yield 0.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	if video, ok := r.VideoStream(); ok {
		if d := parseFloat(video.Duration); d > 0 {
			return d
		}
	}
	return 0
}

// BitRate returns the container bitrate in bits per second, falling back to
// the video stream bitrate.
func (r Result) BitRate() int64 {
	if rate := parseFloat(r.Format.BitRate); rate > 0 {
		return int64(rate)
	}
	if video, ok := r.VideoStream(); ok {
		if rate := parseFloat(video.BitRate); rate > 0 {
			return int64(rate)
		}
	}
	return 0
}

// Metadata converts the result to pipeline metadata. A result without a video
// stream fails with media.ErrNoVideoStream.
func (r Result) Metadata() (media.Metadata, error) {
	video, ok := r.VideoStream()
	if !ok {
		return media.Metadata{}, media.ErrNoVideoStream
	}
	return media.Metadata{
		Width:           video.Width,
		Height:          video.Height,
		DurationSeconds: r.DurationSeconds(),
		BitRate:         r.BitRate(),
		Codec:           video.CodecName,
		HasAudio:        r.AudioStreamCount() > 0,
	}, nil
}

// Prober probes media files with ffprobe.
type Prober struct {
	binary string
	run    OutputRunner
}

// NewProber returns a prober using binary, or "ffprobe" when empty.
func NewProber(binary string) *Prober {
	return &Prober{binary: binary}
}

// WithRunner replaces the subprocess runner (for tests).
func (p *Prober) WithRunner(run OutputRunner) *Prober {
	p.run = run
	return p
}

// Probe inspects path and returns its metadata.
func (p *Prober) Probe(ctx context.Context, path string) (media.Metadata, error) {
	result, err := Inspect(ctx, p.run, p.binary, path)
	if err != nil {
		return media.Metadata{}, err
	}
	return result.Metadata()
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed < 0 {
		return 0
	}
	return parsed
}
