package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"eduetl/internal/infrastructure"
)

const (
	TracerName = "eduetl.operations"
)

// RunTracer wraps runs and steps in spans and records their metrics
type RunTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewRunTracer uses the global tracer provider. Nil metrics record nothing.
func NewRunTracer(metrics *infrastructure.PipelineMetrics) *RunTracer {
	if metrics == nil {
		metrics = infrastructure.NoopPipelineMetrics()
	}
	return &RunTracer{
		tracer:  otel.Tracer(TracerName),
		metrics: metrics,
	}
}

// TraceRun starts the span of a whole run
func (rt *RunTracer) TraceRun(ctx context.Context, runID, mode string) (context.Context, trace.Span) {
	ctx, span := rt.tracer.Start(ctx, "run."+mode,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.mode", mode),
		),
	)
	rt.metrics.ActiveRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("run.mode", mode)))
	return ctx, span
}

// EndRun closes the run span and records the run metrics
func (rt *RunTracer) EndRun(ctx context.Context, span trace.Span, mode string, duration time.Duration, err error) {
	rt.metrics.ActiveRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("run.mode", mode)))
	infrastructure.RecordRunMetrics(ctx, rt.metrics, mode, duration, err)

	span.SetAttributes(attribute.Float64("run.duration_seconds", duration.Seconds()))
	if err != nil {
		infrastructure.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "run completed")
	}
	span.End()
}

// TraceStep starts the span of one step attempt
func (rt *RunTracer) TraceStep(ctx context.Context, runID, stepID string, attempt int) (context.Context, trace.Span) {
	return rt.tracer.Start(ctx, "step."+stepID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.id", stepID),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// EndStep closes the step span and records the step metrics
func (rt *RunTracer) EndStep(ctx context.Context, span trace.Span, stepID string, duration time.Duration, err error) {
	infrastructure.RecordStepMetrics(ctx, rt.metrics, stepID, duration, err)
	if err != nil {
		infrastructure.RecordError(ctx, err, trace.WithAttributes(attribute.String("step.id", stepID)))
	} else {
		span.SetStatus(codes.Ok, "step completed")
	}
	span.End()
}
