package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new internal span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan creates a span for a call to the backing service.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for storecache spans
var (
	AttrCacheKey     = attribute.Key("storecache.key")
	AttrCacheHit     = attribute.Key("storecache.hit")
	AttrCoalesced    = attribute.Key("storecache.coalesced")
	AttrPoolWaited   = attribute.Key("storecache.pool.waited")
	AttrPoolConnID   = attribute.Key("storecache.pool.conn_id")
	AttrPreloadItems = attribute.Key("storecache.preload.items")
	AttrQueryName    = attribute.Key("storecache.backend.query")
)
