package whisperx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestTranscribeReadsJSONOutput(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "audio.wav")
	var gotArgs []string
	svc := NewService(Config{Model: "tiny", Language: "en-US"}).WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		if name != UVXCommand {
			t.Errorf("unexpected binary %s", name)
		}
		gotArgs = args
		return os.WriteFile(filepath.Join(dir, "audio.json"),
			[]byte(`{"segments":[{"text":" Hello there. "},{"text":""},{"text":"General Kenobi."}]}`), 0o644)
	})

	text, err := svc.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hello there. General Kenobi." {
		t.Fatalf("unexpected text %q", text)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"whisperx " + audio, "--model tiny", "--language en", "--output_dir " + dir, "--device cpu"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
}

func TestTranscribeCUDAArgs(t *testing.T) {
	svc := NewService(Config{CUDAEnabled: true, VADMethod: VADMethodPyannote, HFToken: "hf"})
	args := svc.buildArgs("/run/audio.wav", "/run")
	if !slices.Contains(args, CUDAIndexURL) || !slices.Contains(args, CUDADevice) {
		t.Fatalf("expected cuda args, got %v", args)
	}
	if !slices.Contains(args, "--hf_token") {
		t.Fatalf("expected hf token for pyannote, got %v", args)
	}
	if slices.Contains(args, "--language") {
		t.Fatalf("no language configured, got %v", args)
	}
}

func TestTranscribeRunnerFailure(t *testing.T) {
	svc := NewService(Config{}).WithCommandRunner(func(context.Context, string, ...string) error {
		return errors.New("exit status 2")
	})
	if _, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := svc.Transcribe(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestBaseLanguage(t *testing.T) {
	cases := map[string]string{"en": "en", "pt-BR": "pt", "": "", "not a tag!": ""}
	for in, want := range cases {
		if got := BaseLanguage(in); got != want {
			t.Fatalf("BaseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
