package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// StartSubmissionSpan starts the root span of one validation attempt.
func StartSubmissionSpan(ctx context.Context, contributionID, contributionType string, attempt int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "poc.submission",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("contribution.id", contributionID),
			attribute.String("contribution.type", contributionType),
			attribute.Int("contribution.attempt", attempt),
		),
	)
}

// StartComponentSpan starts a span for one operation of a pipeline
// component, e.g. ("zk", "verify") or ("treasury", "disburse").
func StartComponentSpan(ctx context.Context, component, operation string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "poc."+component+"."+operation,
		trace.WithAttributes(attribute.String("poc.component", component)),
	)
}

// StartEpochSpan starts the span of an epoch rollover.
func StartEpochSpan(ctx context.Context, epoch uint64) (context.Context, trace.Span) {
	return tracer().Start(ctx, "poc.epoch.advance",
		trace.WithAttributes(attribute.Int64("epoch", int64(epoch))),
	)
}

// RecordError marks span failed with err. Nil spans and errors are ignored.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanAttributes sets attributes on a possibly nil span.
func AddSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
