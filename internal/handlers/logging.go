package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"framewise/internal/logging"
)

// Logging records job start and outcome.
func Logging(logger *slog.Logger) Middleware {
	logger = logging.NewComponentLogger(logger, "handlers")
	return func(ctx context.Context, inv Invocation, next Next) (json.RawMessage, error) {
		log := logging.WithContext(ctx, logger).With(logging.String(logging.FieldJobKind, inv.Kind))
		log.Info("job started", logging.String(logging.FieldEventType, "job_started"))

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			attrs := append(logging.ErrorAttrs(err),
				logging.Duration("elapsed", elapsed),
				logging.String(logging.FieldEventType, "job_failed"),
			)
			log.Error("job failed", logging.Args(attrs...)...)
			return result, err
		}
		log.Info("job completed",
			logging.Duration("elapsed", elapsed),
			logging.Int("result_bytes", len(result)),
			logging.String(logging.FieldEventType, "job_completed"),
		)
		return result, nil
	}
}
