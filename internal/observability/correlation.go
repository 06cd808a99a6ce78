package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// LogAttrs returns trace_id and span_id key/value pairs for slog when ctx
// carries a recording span, so log lines can be joined to traces.
func LogAttrs(ctx context.Context) []any {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []any{"trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String()}
}
