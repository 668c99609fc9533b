package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// SlogLogger delegates to the standard library's structured logger. It
	// fills the ambient logging role the teacher gives to goa.design/clue/log;
	// clue itself is not wired here because it is bound to the transport and
	// code-generation framework this core intentionally excludes (see
	// SPEC_FULL.md §B), and slog is the only structured logger available
	// without introducing a framework-specific dependency with nothing in
	// this core to bind it to.
	SlogLogger struct {
		logger *slog.Logger
	}

	// OtelMetrics wraps OTEL metrics for runtime instrumentation, mirroring
	// the teacher's ClueMetrics (runtime/agent/telemetry/clue.go): counters
	// and histograms map directly to OTEL instruments, gauges fall back to a
	// histogram since OTEL has no synchronous gauge instrument.
	OtelMetrics struct {
		meter metric.Meter
	}

	// OtelTracer wraps OTEL tracing for runtime spans.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewSlogLogger constructs a Logger backed by the given *slog.Logger. Pass
// nil to use slog.Default().
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// NewOtelMetrics constructs a Metrics recorder using the global
// MeterProvider under the given instrumentation name. Configure the global
// provider via otel.SetMeterProvider before invoking runtime methods.
func NewOtelMetrics(instrumentationName string) Metrics {
	return &OtelMetrics{meter: otel.Meter(instrumentationName)}
}

// NewOtelTracer constructs a Tracer using the global TracerProvider under
// the given instrumentation name.
func NewOtelTracer(instrumentationName string) Tracer {
	return &OtelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (l *SlogLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.logger.DebugContext(ctx, msg, keyvals...)
}

func (l *SlogLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.logger.InfoContext(ctx, msg, keyvals...)
}

func (l *SlogLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.logger.WarnContext(ctx, msg, keyvals...)
}

func (l *SlogLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.logger.ErrorContext(ctx, msg, keyvals...)
}

func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (t *OtelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name)
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
