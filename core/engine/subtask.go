package engine

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/core/idgen"
	"github.com/agentflow/orchestrator/core/stream"
)

// RunSubtask implements tools.SubtaskRunner: it forks the parent run's
// session, drives a nested Run to completion against the fork, and links
// the child run back to the parent's event stream via
// custom:child_run_linked (SPEC_FULL.md §C agent-as-tool linkage).
func (l *Loop) RunSubtask(ctx context.Context, parentRunID, prompt string, allowedTools []string) (string, string, error) {
	l.mu.Lock()
	parent, ok := l.runs[parentRunID]
	l.mu.Unlock()
	if !ok {
		return "", "", fmt.Errorf("engine: unknown parent run %q", parentRunID)
	}

	childSessionID := idgen.Session()
	if _, err := l.store.Fork(ctx, parent.sessionID, childSessionID, "subtask:"+parentRunID); err != nil {
		return "", "", fmt.Errorf("engine: forking subtask session: %w", err)
	}

	childRunID := idgen.Run()
	childBus := stream.NewBus(childRunID, childSessionID)

	parent.bus.Publish(stream.Custom(stream.CustomChildRunLinked, stream.ChildRunLinkedData{
		ParentRunID: parentRunID, ChildRunID: childRunID, SessionID: childSessionID,
	}))

	out, err := l.Run(ctx, childBus, RunInput{SessionID: childSessionID, UserMessage: prompt, Tools: allowedTools})
	if err != nil {
		return "", childRunID, err
	}
	return out.Message.Content, childRunID, nil
}
