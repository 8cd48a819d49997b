package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner executes an external tool. Adapters accept one so tests can
// replace the subprocess.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecCommand runs an external tool bound to ctx.
func ExecCommand(ctx context.Context, name string, args ...string) error {
	return ExecCommandEnv(ctx, nil, name, args...)
}

// ExecCommandEnv runs name with extra environment entries appended to the
// process environment. Output is streamed through a heartbeat writer; on
// failure the last few kilobytes of output are included in the error.
func ExecCommandEnv(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	tail := &tailBuffer{limit: 4096}
	cmd.Stdout = HeartbeatWriter(ctx, tail)
	cmd.Stderr = HeartbeatWriter(ctx, tail)
	if err := cmd.Run(); err != nil {
		if output := strings.TrimSpace(tail.String()); output != "" {
			return fmt.Errorf("%s: %w: %s", name, err, output)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
