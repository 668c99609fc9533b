package hooks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/hooks"
)

type recordingHook struct {
	hooks.Base
	name     string
	priority int
	onCall   func(ev hooks.ToolCallEvent) hooks.HookResult
}

func (r *recordingHook) Name() string  { return r.name }
func (r *recordingHook) Priority() int { return r.priority }
func (r *recordingHook) OnToolCall(_ context.Context, ev hooks.ToolCallEvent) (hooks.HookResult, error) {
	if r.onCall == nil {
		return hooks.AllowResult(), nil
	}
	return r.onCall(ev), nil
}

func TestChainInvokesHooksInPriorityOrder(t *testing.T) {
	var order []string
	low := &recordingHook{name: "low", priority: 10, onCall: func(hooks.ToolCallEvent) hooks.HookResult {
		order = append(order, "low")
		return hooks.AllowResult()
	}}
	high := &recordingHook{name: "high", priority: 90, onCall: func(hooks.ToolCallEvent) hooks.HookResult {
		order = append(order, "high")
		return hooks.AllowResult()
	}}
	chain := hooks.NewChain(low, high)

	res, err := chain.FireToolCall(context.Background(), hooks.ToolCallEvent{ToolName: "file_write"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res.Outcome)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestChainRejectShortCircuits(t *testing.T) {
	var called bool
	rejecting := &recordingHook{name: "rejector", priority: 90, onCall: func(hooks.ToolCallEvent) hooks.HookResult {
		return hooks.RejectResult("nope")
	}}
	never := &recordingHook{name: "never", priority: 10, onCall: func(hooks.ToolCallEvent) hooks.HookResult {
		called = true
		return hooks.AllowResult()
	}}
	chain := hooks.NewChain(rejecting, never)

	res, err := chain.FireToolCall(context.Background(), hooks.ToolCallEvent{})
	require.NoError(t, err)
	assert.Equal(t, hooks.Reject, res.Outcome)
	assert.Equal(t, "nope", res.Reason)
	assert.False(t, called, "hook after a reject must not run")
}

func TestChainModifyAccumulates(t *testing.T) {
	first := &recordingHook{name: "first", priority: 90, onCall: func(ev hooks.ToolCallEvent) hooks.HookResult {
		args := map[string]any{"path": "/safe/" + ev.Args["path"].(string)}
		return hooks.ModifyResult(args)
	}}
	var secondSawPath string
	second := &recordingHook{name: "second", priority: 10, onCall: func(ev hooks.ToolCallEvent) hooks.HookResult {
		secondSawPath = ev.Args["path"].(string)
		return hooks.AllowResult()
	}}
	chain := hooks.NewChain(first, second)

	res, err := chain.FireToolCall(context.Background(), hooks.ToolCallEvent{Args: map[string]any{"path": "x.txt"}})
	require.NoError(t, err)
	assert.Equal(t, hooks.Modify, res.Outcome)
	assert.Equal(t, "/safe/x.txt", secondSawPath)
}

func TestSandboxRejectsPathOutsideRoots(t *testing.T) {
	sb, err := hooks.NewSandbox([]string{"/workspace"}, []string{"**/*.secret"})
	require.NoError(t, err)

	res, err := sb.OnToolCall(context.Background(), hooks.ToolCallEvent{
		ToolName: "file_write",
		Args:     map[string]any{"path": "/etc/passwd"},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.Reject, res.Outcome)
}

func TestSandboxAllowsNonFileTools(t *testing.T) {
	sb, err := hooks.NewSandbox([]string{"/workspace"}, nil)
	require.NoError(t, err)

	res, err := sb.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolName: "web_fetch", Args: map[string]any{"path": "/etc/passwd"}})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res.Outcome)
}

type fakeRequester struct {
	decision hooks.ApprovalDecision
	calls    int
}

func (f *fakeRequester) Request(context.Context, string, string, map[string]any, string, string, time.Duration) (hooks.ApprovalDecision, error) {
	f.calls++
	return f.decision, nil
}

func TestApprovalHookAllowsOnApproved(t *testing.T) {
	a := hooks.NewApproval(&fakeRequester{decision: hooks.ApprovalDecision{Status: hooks.ApprovalApproved}}, nil, time.Second, nil)
	res, err := a.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolName: "shell_exec"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res.Outcome)
}

func TestApprovalHookRejectsOnTimeout(t *testing.T) {
	a := hooks.NewApproval(&fakeRequester{decision: hooks.ApprovalDecision{Status: hooks.ApprovalTimeout}}, nil, time.Second, nil)
	res, err := a.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolName: "shell_exec"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Reject, res.Outcome)
}

func TestApprovalHookShortCircuitsToAllowInAutoMode(t *testing.T) {
	// The fake requester would reject, proving the hook never even calls
	// it once the mode is "auto" for a gated tool.
	req := &fakeRequester{decision: hooks.ApprovalDecision{Status: hooks.ApprovalRejected}}
	a := hooks.NewApproval(req, nil, time.Second, nil)
	res, err := a.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolName: "shell_exec", ApprovalMode: hooks.ApprovalModeAuto})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res.Outcome)
	assert.Zero(t, req.calls, "auto mode must short-circuit before consulting the Requester")
}

func TestApprovalHookIgnoresUngatedTools(t *testing.T) {
	a := hooks.NewApproval(&fakeRequester{decision: hooks.ApprovalDecision{Status: hooks.ApprovalRejected}}, nil, time.Second, nil)
	res, err := a.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolName: "file_read"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res.Outcome)
}

func TestRateLimitRejectsOverConcurrentBound(t *testing.T) {
	rl := hooks.NewRateLimit(1000, 1)
	res1, err := rl.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolCallID: "tc1", ToolName: "shell_exec"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res1.Outcome)

	res2, err := rl.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolCallID: "tc2", ToolName: "shell_exec"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Reject, res2.Outcome)

	require.NoError(t, rl.OnToolResult(context.Background(), hooks.ToolResultEvent{ToolCallID: "tc1"}))
	res3, err := rl.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolCallID: "tc3", ToolName: "shell_exec"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res3.Outcome, "releasing a slot should allow another call")
}

func TestRateLimitGaugeDoesNotDriftNegativeOnBypassedResults(t *testing.T) {
	rl := hooks.NewRateLimit(1000, 1)

	// "rejected-by-self" is rejected by RateLimit's own concurrent bound
	// (exhausted by "admitted" below), "rejected-by-higher-priority-hook"
	// never reaches OnToolCall at all (simulating a higher-priority hook
	// short-circuiting the chain first) — both still produce an
	// on_tool_result the Agentic Loop fires unconditionally.
	res, err := rl.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolCallID: "admitted", ToolName: "shell_exec"})
	require.NoError(t, err)
	require.Equal(t, hooks.Allow, res.Outcome)

	rejected, err := rl.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolCallID: "rejected-by-self", ToolName: "shell_exec"})
	require.NoError(t, err)
	require.Equal(t, hooks.Reject, rejected.Outcome)

	require.NoError(t, rl.OnToolResult(context.Background(), hooks.ToolResultEvent{ToolCallID: "rejected-by-self"}))
	require.NoError(t, rl.OnToolResult(context.Background(), hooks.ToolResultEvent{ToolCallID: "rejected-by-higher-priority-hook"}))

	// If the gauge had drifted negative, this call would be wrongly
	// allowed even though "admitted" is still holding its slot.
	res2, err := rl.OnToolCall(context.Background(), hooks.ToolCallEvent{ToolCallID: "should-still-be-blocked", ToolName: "shell_exec"})
	require.NoError(t, err)
	assert.Equal(t, hooks.Reject, res2.Outcome, "gauge must not drift from on_tool_result for calls that never incremented it")
}

func TestAuditNeverRejects(t *testing.T) {
	a := hooks.NewAudit(nil)
	res, err := a.OnToolCall(context.Background(), hooks.ToolCallEvent{
		ToolName: "shell_exec",
		Args:     map[string]any{"command": "ls", "api_key": "super-secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, res.Outcome)
}
