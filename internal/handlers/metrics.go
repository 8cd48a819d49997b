package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"framewise/internal/services"
)

// instrumentationName is the OTel scope for engine instruments.
const instrumentationName = "framewise/internal/handlers"

// Metrics records per-job execution metrics using the global MeterProvider.
// Without a configured provider the instruments are no-ops.
//
// Instruments:
//   - framewise.job.duration (Float64Histogram, seconds)
//   - framewise.job.executions (Int64Counter)
//
// Both carry job_kind, queue_class, status ("ok" or "error"), and error_kind.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records metrics on the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back no-op instruments.
	duration, _ := meter.Float64Histogram(
		"framewise.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"framewise.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, inv Invocation, next Next) (json.RawMessage, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_kind", inv.Kind),
			attribute.String("queue_class", inv.Class),
			attribute.String("status", status),
			attribute.String("error_kind", string(services.KindOf(err))),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return result, err
	}
}
