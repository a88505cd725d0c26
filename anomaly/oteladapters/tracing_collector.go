package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// TracingCollector implements anomaly.TracingCollector using the OpenTelemetry tracing API.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a collector that starts spans on tracer.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts a span with attrs and returns the context carrying it.
func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, anomaly.SpanContext) {
	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &OTelSpanContext{span: span}
}

// FinishSpan adds attrs, sets the status and ends the span. Foreign SpanContexts are ignored.
func (t *TracingCollector) FinishSpan(spanCtx anomaly.SpanContext, status string, attrs map[string]string) {
	otelSpanCtx, ok := spanCtx.(*OTelSpanContext)
	if !ok {
		return
	}

	otelSpanCtx.span.SetAttributes(toAttributes(attrs)...)
	otelSpanCtx.setSpanStatus(status)
	otelSpanCtx.span.End()
}

var _ anomaly.TracingCollector = (*TracingCollector)(nil)

// OTelSpanContext implements anomaly.SpanContext by wrapping an OpenTelemetry span.
type OTelSpanContext struct {
	span trace.Span
}

func (s *OTelSpanContext) SetStatus(status string) {
	s.setSpanStatus(status)
}

func (s *OTelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

func (s *OTelSpanContext) setSpanStatus(status string) {
	switch status {
	case "ok", "success":
		s.span.SetStatus(codes.Ok, "")
	case "error", "fatal":
		s.span.SetStatus(codes.Error, "Transaction instance failed")
	case "conflict", "retryable_conflict", "conflict_exhausted":
		s.span.SetStatus(codes.Error, "Lock conflict")
	case "cancelled", "canceled":
		s.span.SetStatus(codes.Error, "Transaction instance cancelled")
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

var _ anomaly.SpanContext = (*OTelSpanContext)(nil)
