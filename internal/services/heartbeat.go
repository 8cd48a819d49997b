package services

import (
	"context"
	"io"
)

type heartbeatWriter struct {
	ctx context.Context
	w   io.Writer
}

// HeartbeatWriter returns a writer that signals the job heartbeat on every
// write before forwarding to w. A nil w discards the data. Subprocess output
// piped through it keeps a busy external tool from looking hung.
func HeartbeatWriter(ctx context.Context, w io.Writer) io.Writer {
	if w == nil {
		w = io.Discard
	}
	return &heartbeatWriter{ctx: ctx, w: w}
}

func (h *heartbeatWriter) Write(p []byte) (int, error) {
	Heartbeat(h.ctx)
	return h.w.Write(p)
}
