// Package metrics provides the Metrics Collector: a thin, orchestration-
// domain-specific façade over telemetry.Metrics/Logger/Tracer, following
// the teacher's runtime/registry.Observability shape (structured log
// events plus named counters/histograms/gauges per operation), retargeted
// from registry operations to Agentic Loop runs, tool executions, hook
// invocations, and shared-state conflicts.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentflow/orchestrator/core/telemetry"
)

// Operation names one orchestration-core activity being measured.
type Operation string

const (
	OpRun          Operation = "run"
	OpToolExecute  Operation = "tool_execute"
	OpHookInvoke   Operation = "hook_invoke"
	OpStateSync    Operation = "state_sync"
	OpCheckpoint   Operation = "checkpoint"
	OpMCPToolCall  Operation = "mcp_tool_call"
	OpRouterDecide Operation = "router_decide"
)

// Outcome is the result of one measured operation.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeConflict Outcome = "conflict"
)

// Event is one completed operation's measurement, the unit LogOperation
// and RecordOperationMetrics both consume.
type Event struct {
	Operation Operation
	SessionID string
	Name      string // tool name, hook name, mcp server name, etc.
	Duration  time.Duration
	Outcome   Outcome
	Err       error
}

// Collector records structured log events, named metrics, and trace spans
// for orchestration-core operations, built once per process and shared
// across components the way the teacher shares its Observability.
type Collector struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// NewCollector builds a Collector. Any nil dependency falls back to the
// corresponding no-op implementation, so callers that don't wire
// observability still get a usable Collector.
func NewCollector(logger telemetry.Logger, metricsSink telemetry.Metrics, tracer telemetry.Tracer) *Collector {
	c := &Collector{logger: logger, metrics: metricsSink, tracer: tracer}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	if c.metrics == nil {
		c.metrics = telemetry.NewNoopMetrics()
	}
	if c.tracer == nil {
		c.tracer = telemetry.NewNoopTracer()
	}
	return c
}

// LogOperation emits a structured log line for evt, at a severity chosen
// by its Outcome.
func (c *Collector) LogOperation(ctx context.Context, evt Event) {
	keyvals := []any{
		"operation", string(evt.Operation),
		"outcome", string(evt.Outcome),
		"duration_ms", evt.Duration.Milliseconds(),
	}
	if evt.SessionID != "" {
		keyvals = append(keyvals, "session_id", evt.SessionID)
	}
	if evt.Name != "" {
		keyvals = append(keyvals, "name", evt.Name)
	}
	if evt.Err != nil {
		keyvals = append(keyvals, "error", evt.Err.Error())
	}

	msg := "orchestration operation completed"
	switch evt.Outcome {
	case OutcomeError:
		c.logger.Error(ctx, msg, keyvals...)
	case OutcomeTimeout, OutcomeConflict:
		c.logger.Warn(ctx, msg, keyvals...)
	default:
		c.logger.Info(ctx, msg, keyvals...)
	}
}

// RecordOperationMetrics records evt's duration and outcome as named
// metrics: `orchestrator.<operation>.duration`,
// `orchestrator.<operation>.success`/`.error`/`.timeout`/`.conflict`.
func (c *Collector) RecordOperationMetrics(evt Event) {
	prefix := "orchestrator." + string(evt.Operation)
	tags := []string{"outcome", string(evt.Outcome)}
	if evt.Name != "" {
		tags = append(tags, "name", evt.Name)
	}

	c.metrics.RecordTimer(prefix+".duration", evt.Duration, tags...)
	switch evt.Outcome {
	case OutcomeSuccess:
		c.metrics.IncCounter(prefix+".success", 1, tags...)
	case OutcomeError:
		c.metrics.IncCounter(prefix+".error", 1, tags...)
	case OutcomeTimeout:
		c.metrics.IncCounter(prefix+".timeout", 1, tags...)
	case OutcomeConflict:
		c.metrics.IncCounter(prefix+".conflict", 1, tags...)
	}
}

// RecordQueueDepth reports how many runs are currently queued for
// sessionID (§5's per-session FIFO run queue), as a gauge.
func (c *Collector) RecordQueueDepth(sessionID string, depth int) {
	c.metrics.RecordGauge("orchestrator.run_queue.depth", float64(depth), "session_id", sessionID)
}

// RecordTokenUsage reports the prompt/completion token counts for a
// completed run turn.
func (c *Collector) RecordTokenUsage(sessionID string, promptTokens, completionTokens int) {
	tags := []string{"session_id", sessionID}
	c.metrics.RecordGauge("orchestrator.tokens.prompt", float64(promptTokens), tags...)
	c.metrics.RecordGauge("orchestrator.tokens.completion", float64(completionTokens), tags...)
}

// StartSpan starts a trace span named "orchestrator.<operation>".
func (c *Collector) StartSpan(ctx context.Context, op Operation, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	return c.tracer.Start(ctx, "orchestrator."+string(op), opts...)
}

// EndSpan ends span, recording err if non-nil.
func (c *Collector) EndSpan(span telemetry.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Logger exposes the underlying Logger for components that need plain
// structured logging outside the Event/Operation vocabulary.
func (c *Collector) Logger() telemetry.Logger { return c.logger }
