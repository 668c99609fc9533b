// Package tools implements the Tool Registry from spec §4.2: name → tool
// resolution, JSON-schema argument validation, and dispatch, for both
// built-in tools and MCP-sourced tools registered under a qualified
// "<server>:<tool>" name.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Descriptor is the metadata surface returned by list()/describe(name),
// mirroring the teacher's ToolSpec shape (name/description/schema) narrowed
// to this core's single-process, non-codegen'd tool surface.
type Descriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	// Source is "builtin" for in-process tools or "mcp:<server>" for tools
	// registered via RegisterMCP.
	Source string
}

// Tool is implemented by every built-in tool. MCP-sourced tools are adapted
// to this interface by the MCP Connector (core/mcp) before registration.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, args map[string]any) (any, error)
}

type entry struct {
	tool   Tool
	source string
	schema *jsonschema.Schema
}

// Registry resolves tool names to Tool implementations, validates arguments
// against each tool's JSON schema, and dispatches execution. Safe for
// concurrent use; Register/RegisterMCP may be called after Execute has
// started serving other tools.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a built-in tool under its own name. Re-registering a name
// replaces the previous tool.
func (r *Registry) Register(t Tool) error {
	return r.register(t.Name(), t, "builtin")
}

// RegisterMCP adds a tool sourced from the named MCP server, qualifying its
// registered name as "<server>:<tool>" per spec §4.2.
func (r *Registry) RegisterMCP(server string, t Tool) error {
	qualified := server + ":" + t.Name()
	return r.register(qualified, qualifiedTool{Tool: t, name: qualified}, "mcp:"+server)
}

// qualifiedTool wraps a Tool so Name() reports the fully qualified name
// while delegating everything else.
type qualifiedTool struct {
	Tool
	name string
}

func (q qualifiedTool) Name() string { return q.name }

func (r *Registry) register(name string, t Tool, source string) error {
	compiled, err := compileSchema(name, t.InputSchema())
	if err != nil {
		return fmt.Errorf("tools: registering %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{tool: t, source: source, schema: compiled}
	return nil
}

// Unregister removes a tool by its registered (possibly qualified) name.
// Used by the MCP Connector when a server disconnects.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// List returns every registered tool's Descriptor, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, Descriptor{
			Name:        name,
			Description: e.tool.Description(),
			InputSchema: e.tool.InputSchema(),
			Source:      e.source,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe returns the Descriptor for a single tool name.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{Name: name, Description: e.tool.Description(), InputSchema: e.tool.InputSchema(), Source: e.source}, true
}

// Validate checks args against the named tool's compiled JSON schema
// without executing it.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	if e.schema == nil {
		return nil
	}
	if err := e.schema.Validate(toAnyMap(args)); err != nil {
		return fmt.Errorf("tools: %q: %w", name, err)
	}
	return nil
}

// Execute validates args then dispatches to the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}
	if e.schema != nil {
		if err := e.schema.Validate(toAnyMap(args)); err != nil {
			return nil, fmt.Errorf("tools: %q: invalid arguments: %w", name, err)
		}
	}
	return e.tool.Execute(ctx, args)
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// compileSchema compiles a tool's declared JSON schema, if any, using
// santhosh-tekuri/jsonschema/v6's in-memory resource loader so no tool needs
// a file on disk to validate arguments against.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing input schema: %w", err)
	}
	url := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("loading input schema: %w", err)
	}
	return c.Compile(url)
}

// toAnyMap upgrades a map[string]any to the any-typed value the jsonschema
// package expects (it distinguishes JSON-decoded numbers from Go ints, so
// integers supplied programmatically are passed through json round-trip).
func toAnyMap(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
