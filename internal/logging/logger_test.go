package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"framewise/internal/config"
	"framewise/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestJSONHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, false))
	logger.Info("job queued", String(FieldJobID, "abc"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"ts", "level", "msg", FieldJobID} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected key %q in %v", key, payload)
		}
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
}

func TestPrettyHandlerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))
	logger = NewComponentLogger(logger, "pipeline")
	logger.WithGroup("frames").Info("sampled", Int("count", 5), String("note", "two words"))

	line := buf.String()
	if !strings.Contains(line, "INFO pipeline: sampled") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "frames.count=5") {
		t.Fatalf("expected grouped key: %q", line)
	}
	if !strings.Contains(line, `frames.note="two words"`) {
		t.Fatalf("expected quoted value: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should render as prefix only: %q", line)
	}
}

func TestPrettyHandlerSourceOnlyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	slog.New(newPrettyHandler(&buf, lvl, false)).Info("no caller")
	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("did not expect caller at info: %q", buf.String())
	}

	buf.Reset()
	lvl.Set(slog.LevelDebug)
	slog.New(newPrettyHandler(&buf, lvl, true)).Debug("with caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller at debug: %q", buf.String())
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := services.WithJobID(context.Background(), "job-1")
	ctx = services.WithStage(ctx, "transcribe")
	ctx = services.WithQueueClass(ctx, "media-processing")
	ctx = services.WithRequestID(ctx, "req-9")
	WithContext(ctx, base).Info("stage started")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		FieldJobID:         "job-1",
		FieldStage:         "transcribe",
		FieldQueueClass:    "media-processing",
		FieldCorrelationID: "req-9",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("%s = %v, want %q", key, payload[key], value)
		}
	}
}

func TestWithContextNilLoggerIsSafe(t *testing.T) {
	WithContext(context.Background(), nil).Info("discarded")
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WarnWithContext(logger, "cleanup failed", "workspace_cleanup_failed", String(FieldImpact, "temp files remain"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload[FieldEventType] != "workspace_cleanup_failed" {
		t.Fatalf("event_type = %v", payload[FieldEventType])
	}
	if payload[FieldImpact] != "temp files remain" {
		t.Fatalf("explicit impact overwritten: %v", payload[FieldImpact])
	}
	if payload[FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
}

func TestErrorAttrsCarryTaxonomy(t *testing.T) {
	err := services.Wrap(services.ErrCollaborator, "summarize", "complete", "llm rejected request", errors.New("401"))
	attrs := ErrorAttrs(err)
	if !HasAttrKey(attrs, FieldErrorKind) || !HasAttrKey(attrs, FieldErrorHint) {
		t.Fatalf("missing taxonomy attrs: %v", attrs)
	}
	for _, attr := range attrs {
		if attr.Key == FieldErrorKind && attr.Value.String() != string(services.KindCollaborator) {
			t.Fatalf("error_kind = %s", attr.Value.String())
		}
	}
	if ErrorAttrs(nil) != nil {
		t.Fatal("expected nil attrs for nil error")
	}
}

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Paths.LogDir = dir
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	logger, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("hello file", String(FieldJobID, "j-2"))

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"job_id":"j-2"`) {
		t.Fatalf("expected JSON record in file, got %q", data)
	}
}

func TestTeeHandlerRespectsPerHandlerLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(TeeHandler(nil, info, debug)).With(String("k", "v"))
	logger.Debug("only debug")
	logger.Info("both")

	if strings.Contains(infoBuf.String(), "only debug") {
		t.Fatal("info handler received debug record")
	}
	if strings.Count(debugBuf.String(), "\n") != 2 {
		t.Fatalf("debug handler should see both records: %q", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"k":"v"`) {
		t.Fatalf("attrs not propagated: %q", infoBuf.String())
	}
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected noop handler when all inputs are nil")
	}
}

func TestCleanupOldLogsRemovesExpiredMatches(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "framewise-old.log")
	fresh := filepath.Join(dir, "framewise-new.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, other} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := CleanupOldLogs(NewNop(), 3, RetentionTarget{Dir: dir, Pattern: "framewise-*.log"})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected expired log to be removed")
	}
	for _, path := range []string{fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
	if CleanupOldLogs(NewNop(), 0, RetentionTarget{Dir: dir}) != 0 {
		t.Fatal("retention disabled should remove nothing")
	}
}
