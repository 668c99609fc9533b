package hooks

import (
	"context"
	"strings"

	"github.com/agentflow/orchestrator/core/telemetry"
)

// sensitiveKeyMarkers are substrings that mark an argument key as sensitive
// (case-insensitive), per spec §4.2: "password, token, key, secret,
// credential".
var sensitiveKeyMarkers = []string{"password", "token", "key", "secret", "credential"}

const redacted = "[redacted]"

// Audit logs a structured record of every tool call with sensitive argument
// values redacted. It never rejects (§4.2 priority 100).
type Audit struct {
	Base
	logger telemetry.Logger
}

// NewAudit builds an Audit hook writing through logger.
func NewAudit(logger telemetry.Logger) *Audit {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Audit{logger: logger}
}

func (a *Audit) Name() string  { return "audit" }
func (a *Audit) Priority() int { return 100 }

// OnToolCall implements Hook.
func (a *Audit) OnToolCall(ctx context.Context, ev ToolCallEvent) (HookResult, error) {
	a.logger.Info(ctx, "tool call audited",
		"session_id", ev.SessionID,
		"run_id", ev.RunID,
		"tool_call_id", ev.ToolCallID,
		"tool_name", ev.ToolName,
		"args", redactArgs(ev.Args),
	)
	return AllowResult(), nil
}

// OnToolResult implements Hook.
func (a *Audit) OnToolResult(ctx context.Context, ev ToolResultEvent) error {
	if ev.Err != nil {
		a.logger.Warn(ctx, "tool call failed",
			"session_id", ev.SessionID,
			"tool_call_id", ev.ToolCallID,
			"tool_name", ev.ToolName,
			"error", ev.Err.Error(),
		)
		return nil
	}
	a.logger.Info(ctx, "tool call completed",
		"session_id", ev.SessionID,
		"tool_call_id", ev.ToolCallID,
		"tool_name", ev.ToolName,
	)
	return nil
}

// OnError implements Hook.
func (a *Audit) OnError(ctx context.Context, ev ErrorEvent) error {
	a.logger.Error(ctx, "run error audited",
		"session_id", ev.SessionID,
		"run_id", ev.RunID,
		"error", ev.Err.Error(),
	)
	return nil
}

// redactArgs returns a shallow copy of args with sensitive values replaced.
func redactArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
