package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/core"
	"github.com/agentflow/orchestrator/core/hooks"
	"github.com/agentflow/orchestrator/core/model"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/stream"
	"github.com/agentflow/orchestrator/core/toolerrors"
)

// dispatchToolCalls executes every tool_use block from one LLM turn, in
// response order (§4.3 step d), running each through the Hook Chain and
// Tool Registry and returning the assistant/tool message pairs to extend
// the outbound conversation with.
func (l *Loop) dispatchToolCalls(ctx context.Context, bus *stream.Bus, sessionID, runID string, calls []resolvedToolCall, allowed map[string]bool, timeout time.Duration, approvalMode hooks.ApprovalMode, maxOutputBytes int) ([]model.Message, error) {
	var outbound []model.Message

	for _, call := range calls {
		args, err := unmarshalArgs(call.args)
		if err != nil {
			args = map[string]any{}
		}

		if _, appendErr := l.store.AppendToolCall(ctx, sessionID, session.ToolCall{
			ID: call.id, ToolName: call.name, Args: args, Status: session.ToolCallPending, Source: session.SourceBuiltin,
		}); appendErr != nil {
			return nil, fmt.Errorf("recording tool call %s: %w", call.id, appendErr)
		}

		if allowed != nil && !allowed[call.name] {
			msgs := l.rejectToolCall(ctx, bus, sessionID, runID, call, args, "tool not permitted for this run")
			outbound = append(outbound, msgs...)
			continue
		}

		hookRes, err := l.chain.FireToolCall(ctx, hooks.ToolCallEvent{SessionID: sessionID, RunID: runID, ToolCallID: call.id, ToolName: call.name, Args: args, ApprovalMode: approvalMode})
		if err != nil {
			return nil, fmt.Errorf("on_tool_call hook for %s: %w", call.id, err)
		}
		if hookRes.Outcome == hooks.Reject {
			msgs := l.rejectToolCall(ctx, bus, sessionID, runID, call, args, hookRes.Reason)
			outbound = append(outbound, msgs...)
			continue
		}
		if hookRes.Outcome == hooks.Modify {
			args = hookRes.Args
		}

		msgs := l.executeToolCall(ctx, bus, sessionID, runID, call, args, timeout, maxOutputBytes)
		outbound = append(outbound, msgs...)
	}

	return outbound, nil
}

// rejectToolCall synthesizes the non-fatal rejection outcome for a tool
// call that a hook (or the run's allow-list) refused, per §4.3 step d.
func (l *Loop) rejectToolCall(ctx context.Context, bus *stream.Bus, sessionID, runID string, call resolvedToolCall, args map[string]any, reason string) []model.Message {
	toolErr := toolerrors.New("rejected: " + reason).WithKind("sandbox_rejected")
	content := "rejected: " + reason

	if _, err := l.store.UpdateToolCallStatus(ctx, sessionID, call.id, session.ToolCallRejected, nil, toolErr, nil); err != nil {
		l.logger.Warn(ctx, "updating rejected tool call status failed", "tool_call_id", call.id, "error", err)
	}
	if err := l.chain.FireToolResult(ctx, hooks.ToolResultEvent{SessionID: sessionID, RunID: runID, ToolCallID: call.id, ToolName: call.name, Err: toolErr}); err != nil {
		l.logger.Warn(ctx, "on_tool_result hook failed", "tool_call_id", call.id, "error", err)
	}
	bus.Publish(stream.Event{Type: stream.EventToolCallEnd, Data: stream.ToolCallEndData{ToolCallID: call.id, Status: string(session.ToolCallRejected), Error: toolErr}})

	return l.toolMessagePair(ctx, sessionID, call, args, content, true)
}

// executeToolCall runs one already-approved tool call through the Tool
// Registry, bounded by timeout, and records its terminal outcome.
func (l *Loop) executeToolCall(ctx context.Context, bus *stream.Bus, sessionID, runID string, call resolvedToolCall, args map[string]any, timeout time.Duration, maxOutputBytes int) []model.Message {
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if _, err := l.store.UpdateToolCallStatus(ctx, sessionID, call.id, session.ToolCallExecuting, nil, nil, nil); err != nil {
		l.logger.Warn(ctx, "marking tool call executing failed", "tool_call_id", call.id, "error", err)
	}

	result, execErr := l.registry.Execute(toolCtx, call.name, args)
	duration := time.Since(start)

	var (
		content string
		isError bool
		status  session.ToolCallStatus
		toolErr *toolerrors.ToolError
		raw     json.RawMessage
		bounds  *core.Bounds
	)
	if execErr != nil {
		toolErr = toolerrors.FromError(execErr)
		if toolCtx.Err() != nil {
			toolErr = toolErr.WithKind("tool_timeout").WithRetryable(true)
		}
		status = session.ToolCallFailed
		content = "error: " + toolErr.Error()
		isError = true
	} else {
		status = session.ToolCallCompleted
		raw, _ = json.Marshal(result)
		content = string(raw)
	}

	if maxOutputBytes > 0 && len(content) > maxOutputBytes {
		total := len(content)
		content = content[:maxOutputBytes]
		b := core.Bounds{Kind: "bytes", Returned: maxOutputBytes, Total: total, Truncated: true}
		bounds = &b
		if !isError {
			raw = json.RawMessage(content)
		}
		content += "\n" + b.TruncationMarker()
	}

	if _, err := l.store.UpdateToolCallStatus(ctx, sessionID, call.id, status, result, toolErr, bounds); err != nil {
		l.logger.Warn(ctx, "updating tool call status failed", "tool_call_id", call.id, "error", err)
	}
	if err := l.chain.FireToolResult(ctx, hooks.ToolResultEvent{SessionID: sessionID, RunID: runID, ToolCallID: call.id, ToolName: call.name, Result: result, Err: execErr}); err != nil {
		l.logger.Warn(ctx, "on_tool_result hook failed", "tool_call_id", call.id, "error", err)
	}
	bus.Publish(stream.Event{Type: stream.EventToolCallEnd, Data: stream.ToolCallEndData{
		ToolCallID: call.id, Status: string(status), Result: raw, Error: toolErr, DurationMS: duration.Milliseconds(), Bounds: bounds,
	}})

	return l.toolMessagePair(ctx, sessionID, call, args, content, isError)
}

// toolMessagePair appends the assistant/tool message pair a finished tool
// call contributes to both the session's persisted history and the
// outbound LLM message list (§4.3 step d).
func (l *Loop) toolMessagePair(ctx context.Context, sessionID string, call resolvedToolCall, args map[string]any, content string, isError bool) []model.Message {
	if _, err := l.store.AppendMessage(ctx, sessionID, session.Message{Role: session.RoleAssistant, ToolCallIDs: []string{call.id}}); err != nil {
		l.logger.Warn(ctx, "appending assistant tool_use message failed", "tool_call_id", call.id, "error", err)
	}
	if _, err := l.store.AppendMessage(ctx, sessionID, session.Message{Role: session.RoleTool, Content: content, ToolCallIDs: []string{call.id}}); err != nil {
		l.logger.Warn(ctx, "appending tool result message failed", "tool_call_id", call.id, "error", err)
	}

	argsRaw, _ := json.Marshal(args)
	return []model.Message{
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ToolCallID: call.id, ToolName: call.name, Args: argsRaw}}},
		{Role: model.RoleTool, Parts: []model.Part{model.ToolResultPart{ToolCallID: call.id, Content: content, IsError: isError}}},
	}
}

func unmarshalArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
