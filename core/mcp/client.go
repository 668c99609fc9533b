package mcp

import (
	"context"
	"encoding/json"
)

// Client is implemented by transport-specific MCP connections (stdio,
// HTTP), mirroring the teacher's Caller seam (runtime/mcp/caller.go) so the
// Manager never cares how a server is reached.
type Client interface {
	// ListTools returns the server's advertised tool set.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	// CallTool invokes one tool and returns its textual result.
	CallTool(ctx context.Context, tool string, args json.RawMessage) (CallResult, error)
	// Ping checks liveness for health checks; implementations may no-op if
	// the underlying protocol has no explicit ping.
	Ping(ctx context.Context) error
	// Close releases transport resources (subprocess, connection pool).
	Close() error
}

// CallResult is the normalized outcome of a tools/call invocation.
type CallResult struct {
	Text       string
	IsError    bool
	Structured json.RawMessage
}
