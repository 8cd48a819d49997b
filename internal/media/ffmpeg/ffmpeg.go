// Package ffmpeg extracts stills and analysis audio from media sources.
package ffmpeg

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"framewise/internal/services"
)

// Extractor runs ffmpeg for frame and audio extraction.
type Extractor struct {
	binary string
	run    services.CommandRunner
}

// New returns an extractor using binary, or "ffmpeg" when empty.
func New(binary string) *Extractor {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Extractor{binary: binary, run: services.ExecCommand}
}

// WithRunner replaces the subprocess runner (for tests).
func (e *Extractor) WithRunner(run services.CommandRunner) *Extractor {
	if run != nil {
		e.run = run
	}
	return e
}

// ExtractFrame writes one JPEG still taken at timestamp seconds to dest.
func (e *Extractor) ExtractFrame(ctx context.Context, source string, timestamp float64, dest string) error {
	if source == "" || dest == "" {
		return errors.New("ffmpeg frame: source and destination required")
	}
	if timestamp < 0 {
		return errors.New("ffmpeg frame: negative timestamp")
	}
	return e.run(ctx, e.binary, FrameArgs(source, timestamp, dest)...)
}

// ExtractAudio writes the first audio stream as mono 16 kHz PCM WAV to dest.
func (e *Extractor) ExtractAudio(ctx context.Context, source, dest string) error {
	if source == "" || dest == "" {
		return errors.New("ffmpeg audio: source and destination required")
	}
	return e.run(ctx, e.binary, AudioArgs(source, dest)...)
}

// FrameArgs builds the ffmpeg arguments for a single still. Seeking before
// the input keeps extraction fast on long sources.
func FrameArgs(source string, timestamp float64, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", source,
		"-frames:v", "1",
		"-q:v", "2",
		dest,
	}
}

// AudioArgs builds the ffmpeg arguments for transcription audio. Progress is
// written to stdout so the runner sees steady output on long sources.
func AudioArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-nostats",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}
