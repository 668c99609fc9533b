package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentflow/orchestrator/core/metrics"
)

// recordingMetrics captures every call so tests can assert on exact metric
// names and tags, mirroring the teacher's own recorder-style test doubles.
type recordingMetrics struct {
	counters []call
	timers   []call
	gauges   []call
}

type call struct {
	name  string
	value float64
	tags  []string
}

func (r *recordingMetrics) IncCounter(name string, value float64, tags ...string) {
	r.counters = append(r.counters, call{name, value, tags})
}

func (r *recordingMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	r.timers = append(r.timers, call{name, d.Seconds(), tags})
}

func (r *recordingMetrics) RecordGauge(name string, value float64, tags ...string) {
	r.gauges = append(r.gauges, call{name, value, tags})
}

func TestNewCollectorFillsNoopDefaults(t *testing.T) {
	c := metrics.NewCollector(nil, nil, nil)
	assert.NotNil(t, c.Logger())
	// Should not panic with nil-backed defaults.
	c.RecordOperationMetrics(metrics.Event{Operation: metrics.OpRun, Outcome: metrics.OutcomeSuccess})
}

func TestRecordOperationMetricsSuccess(t *testing.T) {
	rec := &recordingMetrics{}
	c := metrics.NewCollector(nil, rec, nil)

	c.RecordOperationMetrics(metrics.Event{
		Operation: metrics.OpToolExecute,
		Name:      "search",
		Duration:  150 * time.Millisecond,
		Outcome:   metrics.OutcomeSuccess,
	})

	assert.Len(t, rec.timers, 1)
	assert.Equal(t, "orchestrator.tool_execute.duration", rec.timers[0].name)
	assert.Len(t, rec.counters, 1)
	assert.Equal(t, "orchestrator.tool_execute.success", rec.counters[0].name)
}

func TestRecordOperationMetricsError(t *testing.T) {
	rec := &recordingMetrics{}
	c := metrics.NewCollector(nil, rec, nil)

	c.RecordOperationMetrics(metrics.Event{
		Operation: metrics.OpRun,
		Outcome:   metrics.OutcomeError,
		Err:       errors.New("boom"),
	})

	assert.Equal(t, "orchestrator.run.error", rec.counters[0].name)
}

func TestRecordOperationMetricsConflict(t *testing.T) {
	rec := &recordingMetrics{}
	c := metrics.NewCollector(nil, rec, nil)

	c.RecordOperationMetrics(metrics.Event{Operation: metrics.OpStateSync, Outcome: metrics.OutcomeConflict})

	assert.Equal(t, "orchestrator.state_sync.conflict", rec.counters[0].name)
}

func TestRecordQueueDepthEmitsGauge(t *testing.T) {
	rec := &recordingMetrics{}
	c := metrics.NewCollector(nil, rec, nil)

	c.RecordQueueDepth("sess-1", 3)

	require := assert.New(t)
	require.Len(rec.gauges, 1)
	require.Equal("orchestrator.run_queue.depth", rec.gauges[0].name)
	require.Equal(float64(3), rec.gauges[0].value)
}

func TestRecordTokenUsageEmitsTwoGauges(t *testing.T) {
	rec := &recordingMetrics{}
	c := metrics.NewCollector(nil, rec, nil)

	c.RecordTokenUsage("sess-1", 100, 40)

	assert.Len(t, rec.gauges, 2)
}

func TestLogOperationDoesNotPanicAcrossOutcomes(t *testing.T) {
	c := metrics.NewCollector(nil, nil, nil)
	ctx := context.Background()
	for _, outcome := range []metrics.Outcome{metrics.OutcomeSuccess, metrics.OutcomeError, metrics.OutcomeTimeout, metrics.OutcomeConflict} {
		c.LogOperation(ctx, metrics.Event{Operation: metrics.OpHookInvoke, Outcome: outcome, Name: "sandbox"})
	}
}

func TestStartEndSpanDoesNotPanic(t *testing.T) {
	c := metrics.NewCollector(nil, nil, nil)
	ctx, span := c.StartSpan(context.Background(), metrics.OpRouterDecide)
	assert.NotNil(t, ctx)
	c.EndSpan(span, nil)
	c.EndSpan(span, errors.New("fail"))
}
