package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellExec runs a command through /bin/sh -c, gated by a deny-list and an
// optional allow-list of leading command tokens (spec §4.2: "shell exec
// with a deny-list and optional allow-list"). This is the canonical
// high-risk tool the Approval hook gates by default.
type ShellExec struct {
	denySet  map[string]bool
	allowSet map[string]bool
	timeout  time.Duration
}

// NewShellExec builds a ShellExec tool. deny and allow are leading-token
// command names (e.g. "rm", "curl"); when allow is non-empty, only
// commands whose first token is in allow may run. timeout bounds a single
// invocation; zero uses a 30s default matching the Agentic Loop's default
// per-tool timeout (§4.3).
func NewShellExec(deny, allow []string, timeout time.Duration) *ShellExec {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	denySet := make(map[string]bool, len(deny))
	for _, d := range deny {
		denySet[d] = true
	}
	allowSet := make(map[string]bool, len(allow))
	for _, a := range allow {
		allowSet[a] = true
	}
	return &ShellExec{denySet: denySet, allowSet: allowSet, timeout: timeout}
}

func (ShellExec) Name() string        { return "shell_exec" }
func (ShellExec) Description() string { return "Run a shell command with a bounded timeout." }
func (ShellExec) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string"},
			"working_dir": {"type": "string"}
		}
	}`)
}

func (s *ShellExec) Execute(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell_exec: command is required")
	}
	leading := firstToken(command)
	if s.denySet[leading] {
		return nil, fmt.Errorf("shell_exec: command %q is denied", leading)
	}
	if len(s.allowSet) > 0 && !s.allowSet[leading] {
		return nil, fmt.Errorf("shell_exec: command %q is not in the allow-list", leading)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if wd, _ := args["working_dir"].(string); wd != "" {
		cmd.Dir = wd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("shell_exec: %w", err)
	}
	// stdout/stderr are returned in full; capping against max_output and
	// attaching a truncation marker happens once, centrally, in
	// core/engine's executeToolCall, the same way for every tool rather
	// than duplicated per tool implementation.
	return map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
