package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/engine"
	"github.com/agentflow/orchestrator/core/hooks"
	"github.com/agentflow/orchestrator/core/model"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/session/inmem"
	"github.com/agentflow/orchestrator/core/stream"
	"github.com/agentflow/orchestrator/core/tools"
)

// scriptedClient replays a fixed sequence of turns, one []model.StreamEvent
// slice per call to StreamChat, so tests can script a whole conversation
// (text-only turn, tool-call turn, transport failure, ...).
type scriptedClient struct {
	turns [][]model.StreamEvent
	calls int
	errs  []error // optional: StreamChat-level error for a given call index
}

func (c *scriptedClient) StreamChat(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	idx := c.calls
	c.calls++
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	if idx >= len(c.turns) {
		return nil, fmt.Errorf("scriptedClient: no turn scripted for call %d", idx)
	}
	ch := make(chan model.StreamEvent, len(c.turns[idx]))
	for _, ev := range c.turns[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type echoTool struct{}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "echoes its input" }
func (echoTool) InputSchema() json.RawMessage { return nil }
func (echoTool) Execute(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{"echoed": args["text"]}, nil
}

func newFixture(t *testing.T, client *scriptedClient) (*engine.Loop, *inmem.Store, string) {
	t.Helper()
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{})
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))

	chain := hooks.NewChain()
	loop := engine.NewLoop(store, client, registry, chain, nil, nil, engine.RetryPolicy{})
	return loop, store, sessionID
}

func drain(sub *stream.Subscription) []stream.Event {
	var out []stream.Event
	for evt := range sub.Events() {
		out = append(out, evt)
	}
	return out
}

func TestLoopTextOnlyTurnAppendsAssistantMessage(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventTextDelta, TextDelta: "hello "},
			{Kind: model.EventTextDelta, TextDelta: "world"},
			{Kind: model.EventUsage, Usage: model.TokenUsage{InputTokens: 5, OutputTokens: 5}},
			{Kind: model.EventEnd},
		},
	}}
	loop, _, sessionID := newFixture(t, client)

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Message.Content)
	assert.Equal(t, 10, out.TokensUsed)

	bus.Close()
}

func TestLoopOrderingGuarantees(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventTextDelta, TextDelta: "thinking..."},
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "echo"}},
			{Kind: model.EventToolArgsDelta, ToolCallID: "tc1", ToolArgsDelta: `{"text":"hi"}`},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventEnd},
		},
	}}
	loop, _, sessionID := newFixture(t, client)

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	sub := bus.Subscribe(64)
	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Message.Content)

	bus.Close()
	events := drain(sub)

	var startIdx, endIdx, toolStartIdx = -1, -1, -1
	openToolCalls := map[string]bool{}
	for i, evt := range events {
		switch evt.Type {
		case stream.EventTextMessageStart:
			startIdx = i
		case stream.EventTextMessageEnd:
			endIdx = i
			require.Less(t, startIdx, endIdx, "text_message_end must follow its start")
		case stream.EventToolCallStart:
			data := evt.Data.(stream.ToolCallStartData)
			openToolCalls[data.ToolCallID] = true
			toolStartIdx = i
			if startIdx != -1 {
				assert.Greater(t, toolStartIdx, endIdx, "no tool_call_* between text_message_start and its end")
			}
		case stream.EventToolCallEnd:
			data := evt.Data.(stream.ToolCallEndData)
			assert.True(t, openToolCalls[data.ToolCallID], "tool_call_end must match an earlier tool_call_start")
			delete(openToolCalls, data.ToolCallID)
		}
	}
	assert.Empty(t, openToolCalls, "every tool_call_start must have a matching tool_call_end")

	last := events[len(events)-1]
	assert.Equal(t, stream.EventRunFinished, last.Type, "text_message_end must strictly precede run_finished")
}

func TestLoopToolRejectionIsNonFatal(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "echo"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "ok"},
			{Kind: model.EventEnd},
		},
	}}
	loop, _, sessionID := newFixture(t, client)

	rejecting := rejectAllHook{}
	bus := stream.NewBus(engine.NewRunID(), sessionID)

	// Rebuild the loop with a chain that rejects every tool call, proving
	// the run continues (non-fatal) rather than aborting.
	store := inmem.New()
	_, err := store.Create(context.Background(), sessionID, session.Config{})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))
	chain := hooks.NewChain(rejecting)
	loop = engine.NewLoop(store, client, registry, chain, nil, nil, engine.RetryPolicy{})

	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Message.Content)
	bus.Close()
}

type rejectAllHook struct{ hooks.Base }

func (rejectAllHook) Name() string  { return "reject-all" }
func (rejectAllHook) Priority() int { return 50 }
func (rejectAllHook) OnToolCall(context.Context, hooks.ToolCallEvent) (hooks.HookResult, error) {
	return hooks.RejectResult("not allowed in test"), nil
}

func TestLoopLLMUnavailableAfterRetriesExhausted(t *testing.T) {
	client := &scriptedClient{
		turns: [][]model.StreamEvent{},
		errs:  []error{fmt.Errorf("boom"), fmt.Errorf("boom"), fmt.Errorf("boom")},
	}
	loop, _, sessionID := newFixture(t, client)
	loop = engine.NewLoop(mustStore(t, sessionID), client, mustRegistry(t), hooks.NewChain(), nil, nil, engine.RetryPolicy{
		MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, JitterMin: time.Millisecond, JitterMax: 2 * time.Millisecond,
	})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	sub := bus.Subscribe(64)
	_, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.Error(t, err)
	bus.Close()

	events := drain(sub)
	last := events[len(events)-1]
	require.Equal(t, stream.EventRunError, last.Type)
	assert.Equal(t, "llm_unavailable", last.Data.(stream.RunErrorData).Kind)
}

func TestLoopDeadlineExceededProducesTimeoutError(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{{Kind: model.EventTextDelta, TextDelta: "x"}, {Kind: model.EventEnd}},
	}}
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	loop := engine.NewLoop(store, client, registry, hooks.NewChain(), nil, nil, engine.RetryPolicy{})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	past := time.Now().Add(-time.Hour)
	_, err = loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi", Deadline: past})
	require.Error(t, err)
	bus.Close()
}

func TestLoopMaxTurnsAllowsSecondCallAndFailsOnlyIfItToolCalls(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "echo"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc2", ToolName: "echo"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc2"},
			{Kind: model.EventEnd},
		},
	}}
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{MaxTurns: 1})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))
	loop := engine.NewLoop(store, client, registry, hooks.NewChain(), nil, nil, engine.RetryPolicy{})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	sub := bus.Subscribe(64)
	_, err = loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.Error(t, err)
	bus.Close()

	assert.Equal(t, 2, client.calls, "the second LLM call must actually happen before max_turns can fail the run")
	events := drain(sub)
	last := events[len(events)-1]
	require.Equal(t, stream.EventRunError, last.Type)
	assert.Equal(t, "max_turns", last.Data.(stream.RunErrorData).Kind)
}

func TestLoopMaxTurnsDoesNotFailWhenSecondResponseHasNoToolCall(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "echo"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventEnd},
		},
	}}
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{MaxTurns: 1})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))
	loop := engine.NewLoop(store, client, registry, hooks.NewChain(), nil, nil, engine.RetryPolicy{})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Message.Content)
	assert.Equal(t, 2, client.calls)
	bus.Close()
}

// fakeApprovalRequester backs the Approval hook in tests that want to
// prove it was (or was not) actually consulted.
type fakeApprovalRequester struct {
	decision hooks.ApprovalDecision
	calls    int
}

func (f *fakeApprovalRequester) Request(context.Context, string, string, map[string]any, string, string, time.Duration) (hooks.ApprovalDecision, error) {
	f.calls++
	return f.decision, nil
}

func TestLoopAutoApprovalModeSkipsRequesterForGatedTool(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "shell_exec"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventEnd},
		},
	}}
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{ApprovalMode: session.ApprovalModeAuto})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(shellExecStubTool{}))

	requester := &fakeApprovalRequester{decision: hooks.ApprovalDecision{Status: hooks.ApprovalRejected}}
	chain := hooks.NewChain(hooks.NewApproval(requester, nil, time.Second, nil))
	loop := engine.NewLoop(store, client, registry, chain, nil, nil, engine.RetryPolicy{})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Message.Content)
	assert.Zero(t, requester.calls, "auto approval mode must short-circuit before the tool call reaches the Requester")
	bus.Close()
}

func TestLoopManualApprovalModeConsultsRequesterForGatedTool(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "shell_exec"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventEnd},
		},
	}}
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{ApprovalMode: session.ApprovalModeManual})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(shellExecStubTool{}))

	requester := &fakeApprovalRequester{decision: hooks.ApprovalDecision{Status: hooks.ApprovalApproved}}
	chain := hooks.NewChain(hooks.NewApproval(requester, nil, time.Second, nil))
	loop := engine.NewLoop(store, client, registry, chain, nil, nil, engine.RetryPolicy{})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Message.Content)
	assert.Equal(t, 1, requester.calls, "manual approval mode must consult the Requester for a gated tool")
	bus.Close()
}

type shellExecStubTool struct{}

func (shellExecStubTool) Name() string                 { return "shell_exec" }
func (shellExecStubTool) Description() string          { return "stub for approval-gating tests" }
func (shellExecStubTool) InputSchema() json.RawMessage { return nil }
func (shellExecStubTool) Execute(context.Context, map[string]any) (any, error) {
	return map[string]any{"ok": true}, nil
}

type bigOutputTool struct{ size int }

func (bigOutputTool) Name() string                 { return "echo" }
func (bigOutputTool) Description() string          { return "returns a large blob" }
func (bigOutputTool) InputSchema() json.RawMessage { return nil }
func (t bigOutputTool) Execute(context.Context, map[string]any) (any, error) {
	return map[string]any{"blob": strings.Repeat("x", t.size)}, nil
}

func TestLoopTruncatesOversizedToolResultWithBoundsMarker(t *testing.T) {
	client := &scriptedClient{turns: [][]model.StreamEvent{
		{
			{Kind: model.EventToolUseStart, ToolUse: &model.ToolUsePart{ToolCallID: "tc1", ToolName: "echo"}},
			{Kind: model.EventToolUseEnd, ToolCallID: "tc1"},
			{Kind: model.EventEnd},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventEnd},
		},
	}}
	store := inmem.New()
	sessionID := "sess-1"
	_, err := store.Create(context.Background(), sessionID, session.Config{})
	require.NoError(t, err)
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(bigOutputTool{size: 100}))
	loop := engine.NewLoop(store, client, registry, hooks.NewChain(), nil, nil, engine.RetryPolicy{})

	bus := stream.NewBus(engine.NewRunID(), sessionID)
	sub := bus.Subscribe(64)
	out, err := loop.Run(context.Background(), bus, engine.RunInput{SessionID: sessionID, UserMessage: "hi", MaxOutputBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Message.Content)
	bus.Close()

	events := drain(sub)
	var found bool
	for _, evt := range events {
		if evt.Type != stream.EventToolCallEnd {
			continue
		}
		data := evt.Data.(stream.ToolCallEndData)
		require.NotNil(t, data.Bounds, "truncated result must carry Bounds")
		assert.True(t, data.Bounds.Truncated)
		assert.Equal(t, 10, data.Bounds.Returned)
		assert.Equal(t, "bytes", data.Bounds.Kind)
		assert.LessOrEqual(t, len(data.Result), 10, "Result must also be capped")
		found = true
	}
	assert.True(t, found, "expected a tool_call_end event")

	toolCall, err := store.GetToolCall(context.Background(), sessionID, "tc1")
	require.NoError(t, err)
	require.NotNil(t, toolCall.Bounds)
	assert.Contains(t, toolCall.Bounds.TruncationMarker(), "truncated")
}

func mustStore(t *testing.T, sessionID string) *inmem.Store {
	t.Helper()
	store := inmem.New()
	_, err := store.Create(context.Background(), sessionID, session.Config{})
	require.NoError(t, err)
	return store
}

func mustRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))
	return registry
}
