package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"framewise/internal/services"
)

// Handler executes a job. The payload is opaque to the engine; the returned
// result is stored verbatim on success.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps job kinds to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds kind to handler. Registering the same kind twice, or any
// kind after Freeze, fails with a registry error.
func (r *Registry) Register(kind string, handler Handler) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return services.Wrap(services.ErrRegistry, "handlers", "register", "job kind is required", nil)
	}
	if handler == nil {
		return services.Wrap(services.ErrRegistry, "handlers", "register", fmt.Sprintf("nil handler for kind %q", kind), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return services.Wrap(services.ErrRegistry, "handlers", "register",
			fmt.Sprintf("registry frozen; cannot register kind %q after start", kind), nil)
	}
	if _, exists := r.handlers[kind]; exists {
		return services.Wrap(services.ErrRegistry, "handlers", "register",
			fmt.Sprintf("kind %q already registered", kind), nil)
	}
	r.handlers[kind] = handler
	return nil
}

// RegisterTyped registers a handler that works with decoded values. The
// payload is unmarshalled into In before fn runs and the Out value is encoded
// as the job result. A payload that does not decode fails the job with a
// validation error.
//
// This is a package-level function because Go methods cannot take type
// parameters.
func RegisterTyped[In, Out any](r *Registry, kind string, fn func(ctx context.Context, in In) (Out, error)) error {
	if fn == nil {
		return r.Register(kind, nil)
	}
	return r.Register(kind, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, services.Wrap(services.ErrValidation, kind, "decode payload", "payload does not match handler input", err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", kind, err)
		}
		return encoded, nil
	})
}

// Resolve returns the handler for kind.
func (r *Registry) Resolve(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Kinds returns all registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
