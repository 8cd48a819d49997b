package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Invocation describes the job a middleware chain is executing.
type Invocation struct {
	JobID   string
	Kind    string
	Class   string
	Timeout time.Duration
}

// Next is the remainder of the chain.
type Next func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps a handler call with cross-cutting logic. It must call next
// to continue the chain unless it short-circuits with an error.
type Middleware func(ctx context.Context, inv Invocation, next Next) (json.RawMessage, error)

// Chain composes middleware into one. The first middleware is the outermost:
// Chain(a, b) runs a → b → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv Invocation, next Next) (json.RawMessage, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}

// Invoke runs handler for payload through the chain.
func Invoke(ctx context.Context, chain Middleware, inv Invocation, handler Handler, payload json.RawMessage) (json.RawMessage, error) {
	call := func(ctx context.Context) (json.RawMessage, error) {
		return handler(ctx, payload)
	}
	if chain == nil {
		return call(ctx)
	}
	return chain(ctx, inv, call)
}

// DefaultChain is the chain the engine installs. Recover sits innermost so a
// panic is still logged, measured, and traced as a failed job.
func DefaultChain(logger *slog.Logger) Middleware {
	return Chain(Tracing(), Metrics(), Logging(logger), Timeout(logger), Recover(logger))
}
