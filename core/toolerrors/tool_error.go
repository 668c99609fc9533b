// Package toolerrors provides structured error types for tool invocation
// failures. ToolError preserves error chains and supports errors.Is/As while
// remaining serializable for streaming and session history.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure that preserves message and
// causal context while still implementing the standard error interface.
// Tool errors may be nested via Cause to retain diagnostics across retries
// and MCP hops.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string `json:"message"`
	// Kind classifies the failure using the taxonomy in spec §7
	// (tool_not_found, invalid_tool_args, tool_execution_failed,
	// tool_timeout, sandbox_rejected, approval_timeout, approval_rejected,
	// mcp_connection, mcp_tool, mcp_timeout). Empty when the caller did not
	// classify the failure.
	Kind string `json:"kind,omitempty"`
	// Retryable reports whether retrying the same call without
	// modification may succeed.
	Retryable bool `json:"retryable,omitempty"`
	// Cause links to the underlying tool error, enabling error chains with
	// errors.Is/As.
	Cause *ToolError `json:"cause,omitempty"`
}

// New constructs a ToolError with the provided message. Use when the
// failure does not wrap an underlying error but still requires structured
// reporting.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// WithKind sets the error kind and returns the same error for chaining.
func (e *ToolError) WithKind(kind string) *ToolError {
	if e == nil {
		return nil
	}
	e.Kind = kind
	return e
}

// WithRetryable sets the retryable flag and returns the same error for
// chaining.
func (e *ToolError) WithRetryable(retryable bool) *ToolError {
	if e == nil {
		return nil
	}
	e.Retryable = retryable
	return e
}

// NewWithCause constructs a ToolError that wraps an underlying error. The
// cause is converted into a ToolError chain so error metadata survives
// serialization while still supporting errors.Is/As through Unwrap.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Errorf formats according to a format specifier and returns the result as a
// ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
