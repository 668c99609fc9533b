// Package stream implements the Event Bus and wire-level event vocabulary
// from spec §4.1: a per-run, bounded, ordered sequence of typed events
// fanned out to subscribers (the Stream Transport maps these to client
// frames, §6.1).
//
// This is distinct from core/hooks, whose Bus carries internal lifecycle
// events (on_tool_call, on_query_start, ...) consumed by Hook Chain
// subscribers. stream.Bus carries only client-facing events.
package stream

import (
	"encoding/json"
	"time"

	"github.com/agentflow/orchestrator/core"
	"github.com/agentflow/orchestrator/core/toolerrors"
)

// EventType enumerates the full event vocabulary from spec §4.1. Every
// event the Agentic Loop or Hybrid Orchestrator emits uses one of these
// constants; custom inner events (CustomKind) extend the "custom" type
// without widening this enum.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
	EventRunError    EventType = "run_error"

	EventTextMessageStart   EventType = "text_message_start"
	EventTextMessageContent EventType = "text_message_content"
	EventTextMessageEnd     EventType = "text_message_end"

	EventToolCallStart EventType = "tool_call_start"
	EventToolCallArgs  EventType = "tool_call_args"
	EventToolCallEnd   EventType = "tool_call_end"

	EventStateSnapshot EventType = "state_snapshot"
	EventStateDelta    EventType = "state_delta"

	EventCustom EventType = "custom"
)

// CustomKind names the inner event carried by an EventCustom event.
type CustomKind string

const (
	// CustomApprovalRequired is the canonical (lowercase) spelling per
	// DESIGN.md's resolution of spec §9's open question: the source's
	// event-name strings are uniformly lowercase_with_underscores, so
	// "approval_required" is picked over "ApprovalRequired".
	CustomApprovalRequired     CustomKind = "approval_required"
	CustomModeDetected         CustomKind = "mode_detected"
	CustomTokenUpdate          CustomKind = "token_update"
	CustomCheckpointCreated    CustomKind = "checkpoint_created"
	CustomWorkflowState        CustomKind = "workflow_state"
	CustomHeartbeat            CustomKind = "heartbeat"
	CustomStepProgress         CustomKind = "step_progress"
	CustomUIComponent          CustomKind = "ui_component"
	CustomPredictionConfirmed  CustomKind = "prediction_confirmed"
	CustomPredictionRolledBack CustomKind = "prediction_rolled_back"
	CustomPredictionConflicted CustomKind = "prediction_conflicted"
	// CustomToolOutputDelta is a supplemented event kind, not named in
	// spec.md's vocabulary but grounded on the teacher's ToolOutputDelta
	// (see SPEC_FULL.md §C): best-effort streamed output for long-running
	// tools, ignorable by consumers.
	CustomToolOutputDelta CustomKind = "tool_output_delta"
	// CustomChildRunLinked announces that a subtask_delegate tool call
	// spawned a nested run (SPEC_FULL.md §C agent-as-tool linkage),
	// letting a UI follow the child run's own event stream.
	CustomChildRunLinked CustomKind = "child_run_linked"
)

// Event is one frame on a run's event stream. Every event carries a
// monotone per-run Seq so subscribers can detect gaps and resume.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type (
	// RunStartedData carries no payload beyond the envelope.
	RunStartedData struct{}

	// RunFinishedData carries no payload beyond the envelope; absence of
	// Error on the matching RunError distinguishes success.
	RunFinishedData struct{}

	// RunErrorData is the single terminal-failure payload shape (§7):
	// every terminal failure is exactly one run_error event.
	RunErrorData struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}

	// TextMessageStartData allocates the assistant message id that
	// subsequent content/end events and the final session message share.
	TextMessageStartData struct {
		MessageID string `json:"message_id"`
	}

	// TextMessageContentData carries one incremental text delta.
	TextMessageContentData struct {
		MessageID string `json:"message_id"`
		Delta     string `json:"delta"`
		// Thinking marks provider chain-of-thought content distinct from
		// the final visible reply (SPEC_FULL.md §C).
		Thinking bool `json:"thinking,omitempty"`
	}

	// TextMessageEndData closes out a streamed assistant message.
	TextMessageEndData struct {
		MessageID string `json:"message_id"`
	}

	// ToolCallStartData announces a scheduled tool invocation before
	// arguments are fully assembled.
	ToolCallStartData struct {
		ToolCallID string `json:"tool_call_id"`
		ToolName   string `json:"tool_name"`
	}

	// ToolCallArgsData carries one incremental argument fragment as the
	// model streams tool input JSON. Fragments are not guaranteed to be
	// valid JSON on their own (best-effort UX signal only).
	ToolCallArgsData struct {
		ToolCallID string `json:"tool_call_id"`
		Delta      string `json:"delta"`
	}

	// ToolCallEndData carries the terminal outcome of one tool call.
	// Exactly one of Result/Error is populated.
	ToolCallEndData struct {
		ToolCallID string                `json:"tool_call_id"`
		Status     string                `json:"status"`
		Result     json.RawMessage       `json:"result,omitempty"`
		Error      *toolerrors.ToolError `json:"error,omitempty"`
		DurationMS int64                 `json:"duration_ms"`
		// Bounds is set when Result was truncated against max_output
		// (§8), so subscribers can tell a capped result from a complete
		// one without re-deriving it from size heuristics.
		Bounds *core.Bounds `json:"bounds,omitempty"`
	}

	// StateSnapshotData carries the full shared-state tree and its
	// version. Late subscribers receive this before any state_delta
	// (§4.1 contract).
	StateSnapshotData struct {
		Value   json.RawMessage `json:"value"`
		Version uint64          `json:"version"`
	}

	// StateDeltaOp is one add/replace/remove/move operation against the
	// shared-state tree (§4.6).
	StateDeltaOp struct {
		Path  string `json:"path"`
		Op    string `json:"op"`
		Value any    `json:"value,omitempty"`
		From  string `json:"from,omitempty"`
	}

	// StateDeltaData carries an ordered list of applied operations plus
	// the base/new version pair so clients can detect gaps.
	StateDeltaData struct {
		Ops         []StateDeltaOp `json:"ops"`
		BaseVersion uint64         `json:"base_version"`
		Version     uint64         `json:"version"`
	}

	// CustomData wraps one of the named inner events from §4.1.
	CustomData struct {
		Kind CustomKind `json:"kind"`
		Data any        `json:"data,omitempty"`
	}

	// ApprovalRequiredData is emitted at approval request time, before the
	// tool executes, so the UI can render a HITL prompt (§4.2).
	ApprovalRequiredData struct {
		ApprovalID string    `json:"approval_id"`
		ToolCallID string    `json:"tool_call_id"`
		ToolName   string    `json:"tool_name"`
		Risk       string    `json:"risk"`
		Rationale  string    `json:"rationale"`
		ExpiresAt  time.Time `json:"expires_at"`
	}

	// ModeDetectedData is emitted by the Hybrid Orchestrator when the
	// Intent Router's confidence falls below the routing threshold (§4.5).
	ModeDetectedData struct {
		Mode       string  `json:"mode"`
		Confidence float64 `json:"confidence"`
	}

	// TokenUpdateData tracks the Agentic Loop's running token accumulator.
	TokenUpdateData struct {
		TokensUsed int `json:"tokens_used"`
		MaxTokens  int `json:"max_tokens"`
	}

	// CheckpointCreatedData is emitted by the Recovery Manager, with
	// Restored distinguishing a create from a restore (§4.8).
	CheckpointCreatedData struct {
		CheckpointID string `json:"checkpoint_id"`
		Restored     bool   `json:"restored"`
	}

	// WorkflowStateData reports the Workflow path's step machine phase.
	WorkflowStateData struct {
		Phase string `json:"phase"`
		Step  int    `json:"step"`
		Total int    `json:"total"`
	}

	// HeartbeatData is emitted every heartbeat_interval seconds while a run
	// is active and silent (§4.1, §6.1).
	HeartbeatData struct {
		Count          int     `json:"count"`
		ElapsedSeconds float64 `json:"elapsed_seconds"`
		Status         string  `json:"status"`
	}

	// StepProgressData reports workflow-path step completion for UIs
	// (§4.5, scenario 6 in §8).
	StepProgressData struct {
		Step  int `json:"step"`
		Total int `json:"total"`
	}

	// UIComponentData carries a tool-rendered UI hint (opaque to the core;
	// passed through verbatim from a tool result).
	UIComponentData struct {
		Component string          `json:"component"`
		Props     json.RawMessage `json:"props,omitempty"`
	}

	// PredictionConflictedData reports one client-originated diff rejected
	// by State Sync's last-write-wins policy (§4.6).
	PredictionConflictedData struct {
		Path        string `json:"path"`
		ServerValue any    `json:"server_value"`
		ClientValue any    `json:"client_value"`
	}

	// ToolOutputDeltaData streams incremental tool output (SPEC_FULL.md §C
	// supplement). Best-effort; canonical output still arrives via
	// tool_call_end.
	ToolOutputDeltaData struct {
		ToolCallID string `json:"tool_call_id"`
		Stream     string `json:"stream"`
		Delta      string `json:"delta"`
	}

	// ChildRunLinkedData correlates a subtask_delegate tool call with the
	// nested run it spawned.
	ChildRunLinkedData struct {
		ParentRunID string `json:"parent_run_id"`
		ChildRunID  string `json:"child_run_id"`
		SessionID   string `json:"session_id"`
	}
)
