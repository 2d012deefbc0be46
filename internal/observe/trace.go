package observe

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/MrWong99/parley"

// Tracer returns the tracer of the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the id tying log lines of one request or session
// together: the request id set by chi's RequestID middleware, else the trace
// id of the active span, else "".
func CorrelationID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type attrsKey struct{}

// WithAttrs returns a context whose [Logger] carries args in addition to
// any attributes already attached. args follow the slog key-value
// convention.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// Logger returns the default logger enriched from ctx: correlation_id when a
// request id is set, trace_id and span_id when a span is active, and the
// attributes added by [WithAttrs].
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if id := middleware.GetReqID(ctx); id != "" {
		args = append(args, slog.String("correlation_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if extra, ok := ctx.Value(attrsKey{}).([]any); ok {
		args = append(args, extra...)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
