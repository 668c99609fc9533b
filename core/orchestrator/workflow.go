package orchestrator

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/core/engine"
	"github.com/agentflow/orchestrator/core/stream"
)

// WorkflowStep is one step of a Workflow: its own system prompt and tool
// subset, executed as one Agentic Loop call (§4.5: "each step itself is an
// Agentic Loop call with a step-scoped system prompt and tool subset").
type WorkflowStep struct {
	Name   string
	System string
	Tools  []string
}

// Workflow is an ordered sequence of steps the Workflow Runner drives to
// completion for one routed turn.
type Workflow struct {
	Name  string
	Steps []WorkflowStep
}

// WorkflowResolver chooses the Workflow to run for a routed turn. Agent
// bindings register their own resolver (e.g. a fixed per-binding step
// sequence); this is left pluggable because spec.md does not fix how a
// workflow's steps are authored, only that each step is itself a
// step-scoped Agentic Loop call.
type WorkflowResolver interface {
	Resolve(ctx context.Context, sessionID string, in Input) (Workflow, error)
}

// DefaultWorkflowResolver is the fallback used when no agent-specific
// resolver is configured: a single step that passes the whole turn
// through with no system prompt or tool restriction, preserving current
// behavior for bindings that haven't defined a multi-step workflow.
type DefaultWorkflowResolver struct{}

func (DefaultWorkflowResolver) Resolve(_ context.Context, _ string, in Input) (Workflow, error) {
	return Workflow{
		Name: "default",
		Steps: []WorkflowStep{
			{Name: "run", Tools: in.Tools},
		},
	}, nil
}

// runWorkflow drives the Workflow path: resolve the step sequence, then
// run each step as its own Agentic Loop call against the same session,
// synchronizing shared state and emitting step_progress between steps
// (§4.5). Every step appends to the same Session, which is what gives the
// orchestrator its single-logical-history guarantee across paths.
func (o *Orchestrator) runWorkflow(ctx context.Context, bus *stream.Bus, in Input) (engine.RunOutput, error) {
	workflow, err := o.resolver.Resolve(ctx, in.SessionID, in)
	if err != nil {
		return engine.RunOutput{}, fmt.Errorf("orchestrator: resolving workflow: %w", err)
	}
	if len(workflow.Steps) == 0 {
		return engine.RunOutput{}, fmt.Errorf("orchestrator: workflow %q has no steps", workflow.Name)
	}

	var out engine.RunOutput
	nextMessage := in.UserMessage
	total := len(workflow.Steps)

	for i, step := range workflow.Steps {
		if o.stateSync != nil && i > 0 {
			o.stateSync.PublishSnapshot(bus, in.SessionID)
		}
		bus.Publish(stream.Custom(stream.CustomWorkflowState, stream.WorkflowStateData{Phase: "step_started", Step: i + 1, Total: total}))

		stepOut, err := o.loop.Run(ctx, bus, engine.RunInput{
			SessionID:   in.SessionID,
			UserMessage: nextMessage,
			System:      step.System,
			Tools:       step.Tools,
			MaxTokens:   in.MaxTokens,
			Deadline:    in.Deadline,
		})
		if err != nil {
			return engine.RunOutput{}, fmt.Errorf("orchestrator: workflow step %q: %w", step.Name, err)
		}
		out = stepOut
		nextMessage = stepOut.Message.Content

		bus.Publish(stream.Custom(stream.CustomStepProgress, stream.StepProgressData{Step: i + 1, Total: total}))

		if o.checkpointer != nil {
			if _, err := o.checkpointer.CreateCheckpoint(ctx, in.SessionID); err != nil {
				o.logger.Warn(ctx, "workflow step checkpoint failed", "session_id", in.SessionID, "step", step.Name, "error", err)
			}
		}
	}

	return out, nil
}

// runHybrid implements this deployment's resolution of the hybrid-mode
// open question (spec.md line 319): run the chat path, then reapply the
// Intent Router's capability detector to the assistant's own reply; if a
// workflow-exclusive capability is observed there, promote mid-turn and
// drive the Workflow Runner for the remainder of the turn, continuing
// from the chat reply so the two paths share one history.
func (o *Orchestrator) runHybrid(ctx context.Context, bus *stream.Bus, in Input) (engine.RunOutput, error) {
	chatOut, err := o.loop.Run(ctx, bus, engine.RunInput{
		SessionID: in.SessionID, UserMessage: in.UserMessage, Tools: in.Tools, MaxTokens: in.MaxTokens, Deadline: in.Deadline,
	})
	if err != nil {
		return engine.RunOutput{}, err
	}

	capabilities := o.router.DetectCapabilities(chatOut.Message.Content)
	if len(capabilities) == 0 {
		return chatOut, nil
	}

	bus.Publish(stream.Custom(stream.CustomWorkflowState, stream.WorkflowStateData{Phase: "promoted_from_hybrid", Step: 0, Total: 0}))
	promoted := Input{
		SessionID:   in.SessionID,
		UserMessage: chatOut.Message.Content,
		Tools:       in.Tools,
		MaxTokens:   in.MaxTokens,
		Deadline:    in.Deadline,
	}
	workflowOut, err := o.runWorkflow(ctx, bus, promoted)
	if err != nil {
		return engine.RunOutput{}, fmt.Errorf("orchestrator: promoting hybrid turn to workflow: %w", err)
	}
	return workflowOut, nil
}
