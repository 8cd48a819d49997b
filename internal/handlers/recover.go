package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"framewise/internal/logging"
)

// Recover converts handler panics into job errors so a buggy handler cannot
// take down its worker.
func Recover(logger *slog.Logger) Middleware {
	logger = logging.NewComponentLogger(logger, "handlers")
	return func(ctx context.Context, inv Invocation, next Next) (result json.RawMessage, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithContext(logging.WithContext(ctx, logger), "job handler panicked", "handler_panic",
					logging.String(logging.FieldJobKind, inv.Kind),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
					logging.String(logging.FieldErrorHint, "fix the handler; the job was marked failed"),
				)
				result = nil
				retErr = fmt.Errorf("panic in %s handler: %v", inv.Kind, r)
			}
		}()
		return next(ctx)
	}
}
