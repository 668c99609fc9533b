package hooks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimit rejects tool calls once either a sliding per-minute call budget
// or a concurrent-call gauge is exceeded (§4.2 priority 80).
type RateLimit struct {
	Base

	callsPerMinute int
	maxConcurrent  int64
	concurrent     int64
	mu             sync.Mutex
	limiters       map[string]*rate.Limiter

	// admitted tracks which tool-call ids this hook actually let through
	// OnToolCall, so OnToolResult only releases the concurrent-call gauge
	// for calls that incremented it. on_tool_result fires for every
	// resolved tool call, including ones this hook itself rejected or
	// ones a higher-priority hook short-circuited before OnToolCall ever
	// ran; without this guard every such case would decrement the gauge
	// with no matching increment and drive it permanently negative.
	admittedMu sync.Mutex
	admitted   map[string]bool
}

// NewRateLimit builds a RateLimit hook. callsPerMinute bounds the sliding
// window of tool calls per minute (per tool name); maxConcurrent bounds the
// number of tool calls in flight across all tools at once.
func NewRateLimit(callsPerMinute int, maxConcurrent int) *RateLimit {
	return &RateLimit{
		callsPerMinute: callsPerMinute,
		maxConcurrent:  int64(maxConcurrent),
		limiters:       make(map[string]*rate.Limiter),
		admitted:       make(map[string]bool),
	}
}

func (r *RateLimit) Name() string  { return "rate_limit" }
func (r *RateLimit) Priority() int { return 80 }

func (r *RateLimit) limiterFor(tool string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[tool]
	if !ok {
		// A token bucket refilling at callsPerMinute/60 per second with a
		// burst equal to the full per-minute budget approximates the
		// sliding window described in spec.md §4.2.
		l = rate.NewLimiter(rate.Limit(float64(r.callsPerMinute)/60.0), r.callsPerMinute)
		r.limiters[tool] = l
	}
	return l
}

// OnToolCall implements Hook. The concurrent gauge is incremented here and
// released by this hook's own OnToolResult once the tool call finishes; the
// Agentic Loop fires on_tool_result for every resolved tool call.
func (r *RateLimit) OnToolCall(_ context.Context, ev ToolCallEvent) (HookResult, error) {
	if r.maxConcurrent > 0 && atomic.LoadInt64(&r.concurrent) >= r.maxConcurrent {
		return RejectResult("concurrent tool call limit exceeded"), nil
	}
	if r.callsPerMinute > 0 && !r.limiterFor(ev.ToolName).Allow() {
		return RejectResult(fmt.Sprintf("rate limit exceeded for tool %q", ev.ToolName)), nil
	}
	atomic.AddInt64(&r.concurrent, 1)
	r.admittedMu.Lock()
	r.admitted[ev.ToolCallID] = true
	r.admittedMu.Unlock()
	return AllowResult(), nil
}

// OnToolResult implements Hook, releasing the concurrent-call slot acquired
// in OnToolCall — but only for tool-call ids this hook actually admitted.
// on_tool_result fires for every resolved tool call, including ones
// rejected by this hook's own OnToolCall or by a higher-priority hook that
// short-circuited the chain first, and those never incremented the gauge.
func (r *RateLimit) OnToolResult(_ context.Context, ev ToolResultEvent) error {
	r.admittedMu.Lock()
	wasAdmitted := r.admitted[ev.ToolCallID]
	delete(r.admitted, ev.ToolCallID)
	r.admittedMu.Unlock()
	if !wasAdmitted {
		return nil
	}
	atomic.AddInt64(&r.concurrent, -1)
	return nil
}
