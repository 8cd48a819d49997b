package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"framewise/internal/logging"
	"framewise/internal/services"
)

// Timeout enforces Invocation.Timeout as a deadline on the handler context.
// When the deadline fires the returned error carries services.ErrTimeout.
func Timeout(logger *slog.Logger) Middleware {
	logger = logging.NewComponentLogger(logger, "handlers")
	return func(ctx context.Context, inv Invocation, next Next) (json.RawMessage, error) {
		if inv.Timeout <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			logging.String(logging.FieldJobID, inv.JobID),
			logging.Duration("timeout", inv.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, inv.Timeout)
		defer cancel()

		result, err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
			err = fmt.Errorf("%w: job exceeded %s: %w", services.ErrTimeout, inv.Timeout, err)
		}
		return result, err
	}
}
