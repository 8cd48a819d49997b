package services_test

import (
	"bytes"
	"context"
	"testing"

	"framewise/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithStage(ctx, "probe")
	ctx = services.WithQueueClass(ctx, "media-processing")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "probe" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if class, ok := services.QueueClassFromContext(ctx); !ok || class != "media-processing" {
		t.Fatalf("unexpected class: %v %v", class, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}

func TestHeartbeatInvokesInstalledCallback(t *testing.T) {
	beats := 0
	ctx := services.WithHeartbeat(context.Background(), func() { beats++ })
	services.Heartbeat(ctx)
	services.Heartbeat(ctx)
	if beats != 2 {
		t.Fatalf("expected 2 beats, got %d", beats)
	}
	services.Heartbeat(context.Background())
}

func TestHeartbeatWriterBeatsAndForwards(t *testing.T) {
	beats := 0
	ctx := services.WithHeartbeat(context.Background(), func() { beats++ })
	var buf bytes.Buffer
	w := services.HeartbeatWriter(ctx, &buf)
	_, _ = w.Write([]byte("frame=1\n"))
	_, _ = w.Write([]byte("frame=2\n"))
	if beats != 2 {
		t.Fatalf("expected 2 beats, got %d", beats)
	}
	if buf.String() != "frame=1\nframe=2\n" {
		t.Fatalf("unexpected forwarded output %q", buf.String())
	}
	if n, err := services.HeartbeatWriter(context.Background(), nil).Write([]byte("x")); n != 1 || err != nil {
		t.Fatalf("discard writer = %d, %v", n, err)
	}
}
