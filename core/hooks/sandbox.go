package hooks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// FileToolNames is the set of tool names the Sandbox hook treats as
// file-system tools; calls to any other tool ALLOW unconditionally (§4.2).
var FileToolNames = map[string]bool{
	"file_read":       true,
	"file_write":      true,
	"file_edit":       true,
	"file_multi_edit": true,
	"glob":            true,
	"content_search":  true,
}

// PathArgKeys lists the argument keys Sandbox checks for a path, in order of
// preference: the built-in read/write/edit tools use "path", glob and
// content_search name their search directory "root", and "file_path" keeps
// the hook resilient to a differently-shaped tool. A glob or content_search
// call that omits root is not checked.
var PathArgKeys = []string{"path", "file_path", "root"}

// Sandbox rejects file-tool calls whose path escapes the allow-listed roots
// or matches a deny glob (§4.2 priority 85).
type Sandbox struct {
	Base
	roots []string
	deny  []glob.Glob
}

// NewSandbox builds a Sandbox hook. roots are allow-listed absolute
// directories; denyGlobs are glob patterns (gobwas/glob syntax) matched
// against the absolute, cleaned path.
func NewSandbox(roots []string, denyGlobs []string) (*Sandbox, error) {
	absRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolving root %q: %w", r, err)
		}
		absRoots = append(absRoots, filepath.Clean(abs))
	}
	compiled := make([]glob.Glob, 0, len(denyGlobs))
	for _, pattern := range denyGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("sandbox: compiling deny glob %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return &Sandbox{roots: absRoots, deny: compiled}, nil
}

func (s *Sandbox) Name() string  { return "sandbox" }
func (s *Sandbox) Priority() int { return 85 }

// OnToolCall implements Hook.
func (s *Sandbox) OnToolCall(_ context.Context, ev ToolCallEvent) (HookResult, error) {
	if !FileToolNames[ev.ToolName] {
		return AllowResult(), nil
	}
	path := extractPath(ev.Args)
	if path == "" {
		return AllowResult(), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return RejectResult(fmt.Sprintf("invalid path %q", path)), nil
	}
	abs = filepath.Clean(abs)

	for _, g := range s.deny {
		if g.Match(abs) {
			return RejectResult(fmt.Sprintf("path %q matches a deny rule", path)), nil
		}
	}
	if len(s.roots) == 0 {
		return AllowResult(), nil
	}
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return AllowResult(), nil
		}
	}
	return RejectResult(fmt.Sprintf("path %q escapes the allow-listed roots", path)), nil
}

func extractPath(args map[string]any) string {
	for _, key := range PathArgKeys {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
