package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartFeedSpan starts a server span covering one live feed session. The span
// stays open until the subscriber disconnects.
func StartFeedSpan(ctx context.Context, tracer trace.Tracer, subscriberID, measurementType string) (context.Context, trace.Span) {
	name := "feed"
	if measurementType != "" {
		name = "feed " + measurementType
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("tickstat.subscriber", subscriberID),
		attribute.String("tickstat.type", measurementType),
	)
	return ctx, span
}

// StartClientSpan starts a client span for a call against a stats server.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, operation, target string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "tickstat "+operation, trace.WithSpanKind(trace.SpanKindClient))
	if target != "" {
		span.SetAttributes(attribute.String("server.address", target))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
