// Package coreerrors defines the run- and session-scoped error taxonomy from
// spec §7. Unlike core/toolerrors (which is tool-call scoped and non-fatal to
// a run), a CoreError of most kinds here terminates the run that produced it
// and is reported to clients as a single run_error event.
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError into one of the stable categories from §7.
// Callers branch on Kind (via CoreError.Kind() or errors.Is against the
// package-level sentinels) rather than parsing error strings.
type Kind string

const (
	// Session kinds.
	KindSessionNotFound    Kind = "not_found"
	KindSessionAlreadyExists Kind = "already_exists"
	KindInvalidState       Kind = "invalid_state"
	KindExpired            Kind = "expired"

	// Message/Tool kinds.
	KindMessageTooLong   Kind = "message_too_long"
	KindToolNotFound     Kind = "tool_not_found"
	KindInvalidToolArgs  Kind = "invalid_tool_args"
	KindToolExecFailed   Kind = "tool_execution_failed"
	KindToolTimeout      Kind = "tool_timeout"

	// Approval kinds.
	KindApprovalRequired        Kind = "approval_required"
	KindApprovalTimeout         Kind = "approval_timeout"
	KindApprovalRejected        Kind = "approval_rejected"
	KindApprovalNotFound        Kind = "approval_not_found"
	KindApprovalAlreadyResolved Kind = "approval_already_resolved"

	// LLM kinds.
	KindLLMUnavailable Kind = "llm_unavailable"
	KindLLMTimeout     Kind = "llm_timeout"
	KindRateLimited    Kind = "rate_limited"
	KindTokenLimit     Kind = "token_limit"

	// MCP kinds.
	KindMCPConnection Kind = "mcp_connection"
	KindMCPTool       Kind = "mcp_tool"
	KindMCPTimeout    Kind = "mcp_timeout"

	// Stream kinds.
	KindStreamOverflow Kind = "stream_overflow"

	// Generic kinds.
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
	KindDatabase   Kind = "database"
	KindCache      Kind = "cache"

	// Run-control kinds that terminate the Agentic Loop (§4.3/§7).
	KindRejectedByHook Kind = "rejected_by_hook"
	KindTimeout        Kind = "timeout"
	KindCancelled      Kind = "cancelled"
	KindMaxTurns       Kind = "max_turns"
	KindSandboxRejected Kind = "sandbox_rejected"
)

// CoreError is the structured error type for run- and session-scoped
// failures. It carries a Kind for programmatic branching, a Message safe to
// surface to users, and an optional Details payload for diagnostics.
type CoreError struct {
	kind    Kind
	Message string
	Details map[string]any
	cause   error
}

// New constructs a CoreError of the given kind with a message.
func New(kind Kind, message string) *CoreError {
	return &CoreError{kind: kind, Message: message}
}

// Newf constructs a CoreError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a CoreError of the given kind that wraps an existing error.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{kind: kind, Message: message, cause: cause}
}

// WithDetails attaches diagnostic details and returns the same error for
// chaining.
func (e *CoreError) WithDetails(details map[string]any) *CoreError {
	if e == nil {
		return nil
	}
	e.Details = details
	return e
}

// Kind returns the error's classification.
func (e *CoreError) Kind() Kind {
	if e == nil {
		return ""
	}
	return e.kind
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.Message)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *CoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is a CoreError with the same Kind, enabling
// errors.Is(err, coreerrors.New(coreerrors.KindExpired, "")) style checks
// without comparing messages.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if !errors.As(target, &other) {
		return false
	}
	return e.kind == other.kind
}

// Sentinel CoreErrors for the most frequently compared kinds, mirroring the
// teacher's ErrSessionNotFound/ErrSessionEnded/ErrRunNotFound pattern
// (runtime/agent/session/session.go) generalized to the full taxonomy.
var (
	ErrSessionNotFound = New(KindSessionNotFound, "session not found")
	ErrSessionEnded    = New(KindInvalidState, "session ended")
	ErrRunNotFound     = New(KindSessionNotFound, "run not found")
	ErrToolNotFound    = New(KindToolNotFound, "tool not found")
	ErrApprovalPending = New(KindInvalidState, "approval already pending for this tool call")
)

// KindOf extracts the Kind from err if it is (or wraps) a *CoreError,
// returning KindInternal otherwise.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindInternal
}
