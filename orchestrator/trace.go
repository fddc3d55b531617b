package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans in whatever trace backend the
// host wires up via otel.SetTracerProvider, when no tracer is passed in
// through WithTracer.
const tracerName = "kafkaorch/orchestrator"

// traceAttempt wraps one message's processing attempt in a span named
// "orchestrator.tick", recording the run id and whether the attempt failed.
// A nil tracer (the default when no provider is configured) falls back to
// otel's no-op tracer, so this is always safe to call.
func traceAttempt(ctx context.Context, tracer trace.Tracer, runID string, fn func(context.Context) error) error {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "orchestrator.tick", trace.WithAttributes(
		attribute.String("run_id", runID),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
