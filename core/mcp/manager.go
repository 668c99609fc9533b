package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/tools"
)

// server holds one connected MCP server's client and discovered tool index.
type server struct {
	name   string
	client Client

	mu      sync.RWMutex
	toolSet map[string]ToolDescriptor
	healthy bool
}

// Manager aggregates multiple MCP servers' tool indexes behind one surface,
// following the multi-toolset aggregation the teacher's runtime/mcp
// package performs per Caller, generalized here to own the server registry
// and per-request timeout enforcement directly (spec §4.2/§6.3).
type Manager struct {
	mu             sync.RWMutex
	servers        map[string]*server
	requestTimeout time.Duration
}

// NewManager builds a Manager. requestTimeout bounds every CallTool
// invocation; exceeding it surfaces a coreerrors.KindMCPTimeout error
// without tearing down the underlying server connection (§6.3).
func NewManager(requestTimeout time.Duration) *Manager {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Manager{servers: make(map[string]*server), requestTimeout: requestTimeout}
}

// AddServer connects name to client, discovers its tools via ListTools, and
// makes them available under the "<name>:<tool>" qualified namespace.
func (m *Manager) AddServer(ctx context.Context, name string, client Client) error {
	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("mcp: discovering tools for server %q: %w", name, err)
	}
	toolSet := make(map[string]ToolDescriptor, len(descriptors))
	for _, d := range descriptors {
		toolSet[d.Name] = d
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[name] = &server{name: name, client: client, toolSet: toolSet, healthy: true}
	return nil
}

// RemoveServer disconnects and forgets server name.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	s, ok := m.servers[name]
	delete(m.servers, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.client.Close()
}

// ToolIndex lists every tool across every connected server, qualified
// "<server>:<tool>".
func (m *Manager) ToolIndex() []tools.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tools.Descriptor
	for name, s := range m.servers {
		s.mu.RLock()
		for toolName, d := range s.toolSet {
			out = append(out, tools.Descriptor{
				Name:        name + ":" + toolName,
				Description: d.Description,
				InputSchema: d.InputSchema,
				Source:      "mcp:" + name,
			})
		}
		s.mu.RUnlock()
	}
	return out
}

// RegisterAll adapts every discovered tool from every connected server into
// registry under its qualified name.
func (m *Manager) RegisterAll(registry *tools.Registry) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, s := range m.servers {
		s.mu.RLock()
		for toolName, d := range s.toolSet {
			t := mcpTool{manager: m, server: name, descriptor: d}
			if err := registry.RegisterMCP(name, t); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("mcp: registering %s:%s: %w", name, toolName, err)
			}
		}
		s.mu.RUnlock()
	}
	return nil
}

// CallTool invokes tool on server, bounding it by the Manager's per-request
// timeout. A timeout surfaces as a coreerrors.KindMCPTimeout error; the
// underlying server connection is left intact for subsequent calls.
func (m *Manager) CallTool(ctx context.Context, serverName, tool string, args json.RawMessage) (CallResult, error) {
	m.mu.RLock()
	s, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return CallResult{}, coreerrors.Newf(coreerrors.KindMCPConnection, "unknown mcp server %q", serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	result, err := s.client.CallTool(callCtx, tool, args)
	if err != nil {
		if callCtx.Err() != nil {
			return CallResult{}, coreerrors.Wrap(coreerrors.KindMCPTimeout, fmt.Sprintf("mcp call %s:%s timed out", serverName, tool), err)
		}
		return CallResult{}, coreerrors.Wrap(coreerrors.KindMCPTool, fmt.Sprintf("mcp call %s:%s failed", serverName, tool), err)
	}
	return result, nil
}

// HealthCheck pings every server, recording health without removing
// unreachable servers (a later call may succeed again).
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	m.mu.RLock()
	servers := make([]*server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(servers))
	for _, s := range servers {
		err := s.client.Ping(ctx)
		s.mu.Lock()
		s.healthy = err == nil
		s.mu.Unlock()
		results[s.name] = err
	}
	return results
}

// mcpTool adapts one MCP-discovered tool to tools.Tool.
type mcpTool struct {
	manager    *Manager
	server     string
	descriptor ToolDescriptor
}

func (t mcpTool) Name() string                    { return t.descriptor.Name }
func (t mcpTool) Description() string             { return t.descriptor.Description }
func (t mcpTool) InputSchema() json.RawMessage     { return t.descriptor.InputSchema }

func (t mcpTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling arguments for %s:%s: %w", t.server, t.descriptor.Name, err)
	}
	result, err := t.manager.CallTool(ctx, t.server, t.descriptor.Name, payload)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp: %s:%s: %s", t.server, t.descriptor.Name, result.Text)
	}
	return map[string]any{"text": result.Text, "structured": result.Structured}, nil
}
