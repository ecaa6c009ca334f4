package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/flowbridge"

// Tracer provides OpenTelemetry spans for event handling and delivery.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartEventSpan starts a span covering one trigger, from gate to delivery.
func (t *Tracer) StartEventSpan(ctx context.Context, kind string, recordID int64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "flowbridge.event",
		trace.WithAttributes(
			attribute.String("flowbridge.event_kind", kind),
			attribute.Int64("flowbridge.record_id", recordID),
		),
	)
}

// StartDeliverySpan starts a span covering the HTTP retry loop.
func (t *Tracer) StartDeliverySpan(ctx context.Context, recordID int64, eventID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "flowbridge.delivery",
		trace.WithAttributes(
			attribute.Int64("flowbridge.record_id", recordID),
			attribute.String("flowbridge.event_id", eventID),
		),
	)
}

// EndEventSpan ends an event span with the gate outcome.
func (t *Tracer) EndEventSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("flowbridge.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, attempts int, err error) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("flowbridge.attempts", attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
