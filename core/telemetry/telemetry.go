// Package telemetry defines the Logger/Metrics/Tracer capabilities injected
// throughout the orchestration core. Components never reach for a global
// logger or metrics sink directly; they accept these interfaces at
// construction time, so tests can supply lightweight stubs and processes
// that don't wire OpenTelemetry can fall back to the no-op implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runtime.
// Implementations are intentionally small so tests can provide lightweight
// stubs without pulling in a logging framework.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/histogram/gauge helpers for runtime
// instrumentation. Tag pairs are passed as alternating key/value strings
// (name1, value1, name2, value2, ...).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
