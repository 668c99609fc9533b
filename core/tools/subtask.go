package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubtaskRunner is the capability the subtask_delegate tool depends on: the
// Agentic Loop (core/engine) implements this by spawning a nested run bound
// to the same session and reporting its final assistant text back as the
// tool's result. This is the supplemented agent-as-tool linkage from
// SPEC_FULL.md §C, surfaced to clients as custom:child_run_linked.
type SubtaskRunner interface {
	RunSubtask(ctx context.Context, parentRunID, prompt string, allowedTools []string) (result string, childRunID string, err error)
}

// SubtaskDelegate lets the model spawn a nested, tool-scoped run and block
// on its result — an agent calling another agent as a tool.
type SubtaskDelegate struct {
	runner SubtaskRunner
	runID  string
}

// NewSubtaskDelegate builds a SubtaskDelegate tool bound to the parent run's
// id, which the runner needs to link the child run for clients (§C).
func NewSubtaskDelegate(runner SubtaskRunner, parentRunID string) *SubtaskDelegate {
	return &SubtaskDelegate{runner: runner, runID: parentRunID}
}

func (SubtaskDelegate) Name() string { return "subtask_delegate" }
func (SubtaskDelegate) Description() string {
	return "Delegate a focused subtask to a nested agent run and return its result."
}
func (SubtaskDelegate) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["prompt"],
		"properties": {
			"prompt": {"type": "string"},
			"allowed_tools": {"type": "array", "items": {"type": "string"}}
		}
	}`)
}

func (s *SubtaskDelegate) Execute(ctx context.Context, args map[string]any) (any, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("subtask_delegate: prompt is required")
	}
	var allowed []string
	if raw, ok := args["allowed_tools"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				allowed = append(allowed, s)
			}
		}
	}
	result, childRunID, err := s.runner.RunSubtask(ctx, s.runID, prompt, allowed)
	if err != nil {
		return nil, fmt.Errorf("subtask_delegate: %w", err)
	}
	return map[string]any{"result": result, "child_run_id": childRunID}, nil
}
