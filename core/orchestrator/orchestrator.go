// Package orchestrator implements the Hybrid Orchestrator from spec §4.5:
// it classifies each turn via the Intent Router, chooses the chat path or
// the Workflow Runner's step machine, and guarantees a single logical
// history by driving every path through the same Agentic Loop against the
// same Session.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core/engine"
	"github.com/agentflow/orchestrator/core/intent"
	"github.com/agentflow/orchestrator/core/statesync"
	"github.com/agentflow/orchestrator/core/stream"
	"github.com/agentflow/orchestrator/core/telemetry"
)

// Runner is the capability the orchestrator drives both paths through: one
// Agentic Loop call per chat turn or per workflow step.
type Runner interface {
	Run(ctx context.Context, bus *stream.Bus, in engine.RunInput) (engine.RunOutput, error)
}

// Checkpointer is the Recovery Manager capability the Workflow Runner may
// invoke between steps (§4.5: "Between steps the orchestrator may ... take
// a Checkpoint"). Kept as a narrow interface here so core/orchestrator
// never imports core/recovery directly; cmd/demo wires the concrete
// implementation.
type Checkpointer interface {
	CreateCheckpoint(ctx context.Context, sessionID string) (string, error)
}

// Input is one user turn submitted to the orchestrator.
type Input struct {
	SessionID   string
	UserMessage string
	Tools       []string
	MaxTokens   int
	Deadline    time.Time
}

type routingState struct {
	override intent.Mode
	dominant intent.Mode
}

// Orchestrator is built once per process and is safe for concurrent use
// across sessions; per-session routing state is kept behind its own lock.
type Orchestrator struct {
	loop         Runner
	router       *intent.Router
	resolver     WorkflowResolver
	stateSync    *statesync.Store
	checkpointer Checkpointer
	logger       telemetry.Logger

	mu     sync.Mutex
	states map[string]*routingState
}

// New builds an Orchestrator. resolver and checkpointer may be nil:
// a nil resolver falls back to DefaultWorkflowResolver (a single
// whole-message step); a nil checkpointer skips checkpointing between
// workflow steps.
func New(loop Runner, router *intent.Router, stateSync *statesync.Store, resolver WorkflowResolver, checkpointer Checkpointer, logger telemetry.Logger) *Orchestrator {
	if resolver == nil {
		resolver = DefaultWorkflowResolver{}
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{
		loop:         loop,
		router:       router,
		resolver:     resolver,
		stateSync:    stateSync,
		checkpointer: checkpointer,
		logger:       logger,
		states:       make(map[string]*routingState),
	}
}

// SetManualOverride locks sessionID onto mode, bypassing the Intent
// Router until cleared (§4.5: "If the session has a user-locked manual
// override, use it").
func (o *Orchestrator) SetManualOverride(sessionID string, mode intent.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateLocked(sessionID).override = mode
}

// ClearManualOverride removes sessionID's manual override, if any.
func (o *Orchestrator) ClearManualOverride(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateLocked(sessionID).override = ""
}

func (o *Orchestrator) stateLocked(sessionID string) *routingState {
	st, ok := o.states[sessionID]
	if !ok {
		st = &routingState{}
		o.states[sessionID] = st
	}
	return st
}

// Submit routes one user turn per §4.5's decision rule and executes it to
// completion, returning the final Agentic Loop output (for the workflow
// path, the last step's output).
func (o *Orchestrator) Submit(ctx context.Context, bus *stream.Bus, in Input) (engine.RunOutput, error) {
	o.mu.Lock()
	state := o.stateLocked(in.SessionID)
	override := state.override
	priorDominant := state.dominant
	o.mu.Unlock()

	mode, confidence, reason, err := o.decide(ctx, bus, in, override, priorDominant)
	if err != nil {
		return engine.RunOutput{}, err
	}
	o.logger.Debug(ctx, "orchestrator routed turn", "session_id", in.SessionID, "mode", mode, "confidence", confidence, "reason", reason)

	if o.stateSync != nil {
		o.stateSync.PublishSnapshot(bus, in.SessionID)
	}

	switch mode {
	case intent.ModeWorkflow:
		out, err := o.runWorkflow(ctx, bus, in)
		if err == nil {
			o.recordDominant(in.SessionID, intent.ModeWorkflow)
		}
		return out, err

	case intent.ModeHybrid:
		out, err := o.runHybrid(ctx, bus, in)
		if err == nil {
			o.recordDominant(in.SessionID, intent.ModeHybrid)
		}
		return out, err

	default:
		out, err := o.loop.Run(ctx, bus, engine.RunInput{
			SessionID: in.SessionID, UserMessage: in.UserMessage, Tools: in.Tools, MaxTokens: in.MaxTokens, Deadline: in.Deadline,
		})
		if err == nil {
			o.recordDominant(in.SessionID, intent.ModeChat)
		}
		return out, err
	}
}

// decide implements §4.5's routing rule: manual override first, then a
// confident Intent Router result, else the session default (already
// computed by the Router's own confidence floor) announced via
// custom:mode_detected.
func (o *Orchestrator) decide(ctx context.Context, bus *stream.Bus, in Input, override, priorDominant intent.Mode) (intent.Mode, float64, string, error) {
	if override != "" {
		return override, 1.0, "user-locked manual override", nil
	}

	result, err := o.router.Classify(ctx, in.UserMessage, priorDominant)
	if err != nil {
		return "", 0, "", fmt.Errorf("orchestrator: classifying turn: %w", err)
	}
	if result.Confidence >= intent.RoutingThreshold {
		return result.Mode, result.Confidence, result.Reason, nil
	}

	bus.Publish(stream.Custom(stream.CustomModeDetected, stream.ModeDetectedData{Mode: string(result.Mode), Confidence: result.Confidence}))
	return result.Mode, result.Confidence, result.Reason, nil
}

func (o *Orchestrator) recordDominant(sessionID string, mode intent.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateLocked(sessionID).dominant = mode
}
