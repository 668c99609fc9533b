// Package model defines the provider-agnostic message, tool-call, and
// streaming types shared by the Agentic Loop and model Client adapters. It
// exists so the loop in core/engine never imports a vendor SDK directly:
// per spec §9, "the LLM client is an injected capability" with the minimal
// surface StreamChat(messages, tools, max_tokens, deadline) → iterator.
package model

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type (
	// Part is implemented by every message content block. Concrete parts
	// capture plain text and tool-use/tool-result content in a strongly
	// typed form so the loop never inspects raw provider JSON.
	Part interface{ isPart() }

	// TextPart is a plain text content block.
	TextPart struct {
		Text string
		// Thinking marks this part as provider chain-of-thought content
		// rather than the final answer (see SPEC_FULL.md §C). Streamed to
		// clients as text_message_content(thinking=true) rather than being
		// folded into the assistant's visible reply.
		Thinking bool
	}

	// ToolUsePart is a tool invocation requested by the model.
	ToolUsePart struct {
		ToolCallID string
		ToolName   string
		Args       json.RawMessage
	}

	// ToolResultPart carries a tool's result back to the model.
	ToolResultPart struct {
		ToolCallID string
		Content    string
		IsError    bool
	}

	// Message is one turn in the conversation sent to/received from the
	// model. Parts preserves provider ordering within the turn.
	Message struct {
		Role  Role
		Parts []Part
	}

	// ToolSchema describes one tool available to the model for this request.
	ToolSchema struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// TokenUsage reports token accounting for one model invocation.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		Model        string
	}

	// StreamEvent is one increment of a streamed model response. Kind
	// selects which of the fields below are meaningful.
	StreamEvent struct {
		Kind StreamEventKind
		// TextDelta is set when Kind == EventTextDelta.
		TextDelta string
		// Thinking mirrors TextPart.Thinking for EventTextDelta events.
		Thinking bool
		// ToolUse is set when Kind == EventToolUseStart.
		ToolUse *ToolUsePart
		// ToolArgsDelta is set when Kind == EventToolArgsDelta.
		ToolArgsDelta string
		// ToolCallID correlates EventToolArgsDelta/EventToolUseEnd with the
		// originating EventToolUseStart.
		ToolCallID string
		// Usage is set when Kind == EventUsage.
		Usage TokenUsage
		// Err is set when Kind == EventError.
		Err error
	}

	// StreamEventKind enumerates StreamEvent variants.
	StreamEventKind int

	// Request bundles the arguments for one model call.
	Request struct {
		System   string
		Messages []Message
		Tools    []ToolSchema
		MaxTokens int
	}

	// Client is the minimal capability surface the Agentic Loop depends on.
	// Vendor SDKs (Anthropic, OpenAI, Bedrock, ...) are adapted to this
	// interface at the edge; the loop itself never imports a vendor package.
	Client interface {
		// StreamChat issues one model request and returns a channel of
		// StreamEvent values terminated by an EventEnd (success) or
		// EventError (failure) event. The returned channel is always closed
		// by the implementation, including on ctx cancellation.
		StreamChat(ctx context.Context, req Request) (<-chan StreamEvent, error)
	}
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

const (
	EventTextDelta StreamEventKind = iota
	EventToolUseStart
	EventToolArgsDelta
	EventToolUseEnd
	EventUsage
	EventEnd
	EventError
)
