package daemon

import (
	"context"
	"testing"
	"time"

	"framewise/internal/engine"
	"framewise/internal/logging"
	"framewise/internal/testsupport"
)

func TestStatusDoesNotWaitOnLifecycleLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	d, err := New(cfg, engine.New(cfg, logging.NewNop()), logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		_ = d.Status(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked while the lifecycle lock was held")
	}
}
