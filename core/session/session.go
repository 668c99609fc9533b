// Package session defines the Session/Message/ToolCall/Approval/Checkpoint
// entities from spec §3 and the Store interface that persists and mutates
// them. Append operations are serialized per session (§5); concrete Store
// implementations are responsible for enforcing that serialization plus the
// invariants listed on each type below.
package session

import (
	"context"
	"time"

	"github.com/agentflow/orchestrator/core"
	"github.com/agentflow/orchestrator/core/toolerrors"
)

type (
	// Status is the lifecycle state of a Session. StatusEnded is terminal:
	// no transitions lead out of it and no further appends are permitted.
	Status string

	// Role identifies the author of a Message.
	Role string

	// ToolCallStatus is the lifecycle state of a ToolCall, per the state
	// machine in spec §4.2/§4.3. Completed, Failed, and Cancelled are
	// terminal.
	ToolCallStatus string

	// ApprovalMode configures whether the Approval hook auto-allows
	// configured tools or requires an explicit human decision (§6.5).
	ApprovalMode string

	// ToolSource identifies where a tool call was dispatched from.
	ToolSource string
)

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusEnded     Status = "ended"

	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"

	ToolCallPending           ToolCallStatus = "pending"
	ToolCallAwaitingApproval  ToolCallStatus = "awaiting_approval"
	ToolCallApproved          ToolCallStatus = "approved"
	ToolCallRejected          ToolCallStatus = "rejected"
	ToolCallExecuting         ToolCallStatus = "executing"
	ToolCallCompleted         ToolCallStatus = "completed"
	ToolCallFailed            ToolCallStatus = "failed"
	ToolCallCancelled         ToolCallStatus = "cancelled"

	ApprovalModeAuto   ApprovalMode = "auto"
	ApprovalModeManual ApprovalMode = "manual"

	SourceBuiltin ToolSource = "builtin"
)

// MCPSource returns the ToolSource for a tool dispatched through the named
// MCP server, formatted as "mcp:<server>" per spec §3.
func MCPSource(server string) ToolSource { return ToolSource("mcp:" + server) }

// IsTerminal reports whether status is one of ToolCall's terminal states.
func (s ToolCallStatus) IsTerminal() bool {
	switch s {
	case ToolCallCompleted, ToolCallFailed, ToolCallCancelled:
		return true
	}
	return false
}

type (
	// Config is a Session's per-session execution configuration (§3, §6.5).
	Config struct {
		ApprovalMode    ApprovalMode
		MaxTurns        int
		TimeoutSeconds  int
		TokenLimit      int
		HeartbeatSeconds int
	}

	// Attachment references out-of-band content carried by a Message.
	Attachment struct {
		ID       string
		MIMEType string
		URI      string
		Bytes    []byte
	}

	// Session represents one conversation: its lifecycle, configuration, and
	// the append-only Message timeline owned exclusively by it.
	Session struct {
		ID          string
		Name        string
		Status      Status
		AgentBinding string
		Config      Config
		CreatedAt   time.Time
		// Revision is the monotone counter bumped on every mutation,
		// enabling optimistic-concurrency reads per §5.
		Revision uint64
		// EventHighWaterMark is the last published event sequence number
		// observed for this session's active run, if any.
		EventHighWaterMark uint64
	}

	// Message is one entry in a session's append-only timeline.
	Message struct {
		ID          string
		SessionID   string
		Role        Role
		Content     string
		ToolCallIDs []string
		Attachments []Attachment
		CreatedAt   time.Time
	}

	// ToolCall is a single tool invocation owned by exactly one assistant
	// Message and owning exactly one Result on completion.
	ToolCall struct {
		ID        string
		MessageID string
		ToolName  string
		Args      map[string]any
		Status    ToolCallStatus
		Result    any
		Bounds    *core.Bounds
		Error     *toolerrors.ToolError
		Source    ToolSource
		StartedAt *time.Time
		EndedAt   *time.Time
	}
)

// Store persists and mutates sessions, messages, and tool calls. All append
// operations on a single session must be serialized by the implementation
// (§5): concurrent AppendMessage/AppendToolCall calls for the same session
// id must not interleave in a way that violates append-only ordering.
type Store interface {
	Create(ctx context.Context, id string, cfg Config) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	End(ctx context.Context, id string, endedAt time.Time) (Session, error)

	AppendMessage(ctx context.Context, sessionID string, msg Message) (Message, error)
	AppendToolCall(ctx context.Context, sessionID string, tc ToolCall) (ToolCall, error)
	UpdateToolCallStatus(ctx context.Context, sessionID, toolCallID string, status ToolCallStatus, result any, toolErr *toolerrors.ToolError, bounds *core.Bounds) (ToolCall, error)
	GetToolCall(ctx context.Context, sessionID, toolCallID string) (ToolCall, error)

	// GetHistory returns messages in ascending order starting after cursor
	// (a sequence index; 0 means from the beginning), capped at limit (0
	// means unlimited). The response must be stable under concurrent
	// appends: cursor is resolved against the sequence index at call time.
	GetHistory(ctx context.Context, sessionID string, cursor, limit int) (messages []Message, nextCursor int, err error)

	// Fork produces a new session whose message list is a deep copy of the
	// source up to its current tail. The new session continues
	// independently; subsequent appends to either session must not appear
	// in the other.
	Fork(ctx context.Context, sourceID, newID string, label string) (Session, error)
}
