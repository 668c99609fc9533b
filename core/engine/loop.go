// Package engine implements the Agentic Loop from spec §4.3: the state
// machine that drives one user turn to completion, alternating LLM calls
// with tool dispatch through the Hook Chain and Tool Registry while
// streaming every step onto a run's Event Bus.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/hooks"
	"github.com/agentflow/orchestrator/core/idgen"
	"github.com/agentflow/orchestrator/core/model"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/stream"
	"github.com/agentflow/orchestrator/core/telemetry"
	"github.com/agentflow/orchestrator/core/tools"
)

// defaultToolTimeout is the per-tool execution bound applied when a run
// does not specify one (§4.3 step d: "tool-specific; default 30s").
const defaultToolTimeout = 30 * time.Second

// defaultMaxAttempts bounds LLM transport retries before a run fails with
// KindLLMUnavailable (§4.3: "default 3 tries").
const defaultMaxAttempts = 3

// defaultMaxOutputBytes bounds a single tool result surfaced to the model
// before it is truncated with an explicit marker (§8: "tool returning
// bytes larger than max_output: truncated with an explicit truncation
// marker; downstream LLM sees the truncated result").
const defaultMaxOutputBytes = 32 * 1024

type (
	// RetryPolicy configures the Agentic Loop's LLM transport retry
	// behavior. Zero values fall back to the spec defaults.
	RetryPolicy struct {
		MaxAttempts int
		BaseDelay   time.Duration
		MaxDelay    time.Duration
		// JitterMin/JitterMax bound the random jitter added to each
		// backoff delay (§4.3: "jitter 100-500ms").
		JitterMin time.Duration
		JitterMax time.Duration
	}

	// RunInput is the Agentic Loop's request: (session, new user message,
	// tool set, max tokens, deadline) per spec §4.3.
	RunInput struct {
		SessionID   string
		UserMessage string
		// System overrides the system prompt sent with this turn. Used by
		// the Workflow Runner to scope each step to its own system prompt
		// (SPEC_FULL.md §4.5); empty means no system prompt.
		System string
		// Tools restricts the tool set exposed to the model this turn. A
		// nil or empty slice exposes every tool registered in the Tool
		// Registry.
		Tools []string
		// MaxTokens overrides the session's configured token limit for
		// this turn. Zero defers to session.Config.TokenLimit.
		MaxTokens int
		// Deadline overrides the session's configured timeout for this
		// turn. Zero defers to session.Config.TimeoutSeconds.
		Deadline time.Time
		// ToolTimeout overrides defaultToolTimeout for every tool call in
		// this turn.
		ToolTimeout time.Duration
		// MaxOutputBytes overrides defaultMaxOutputBytes for every tool
		// result in this turn.
		MaxOutputBytes int
	}

	// RunOutput is the Agentic Loop's result: the final assembled
	// assistant message plus the token accounting for the turn.
	RunOutput struct {
		Message    session.Message
		TokensUsed int
		Turns      int
	}

	// Loop drives single user turns to completion. A Loop is built once per
	// process (or per agent binding) and reused across runs; per-run state
	// lives on the stack of Run, apart from the handle each in-flight run
	// registers in runs until it returns.
	Loop struct {
		store    session.Store
		model    model.Client
		registry *tools.Registry
		chain    *hooks.Chain
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		retry    RetryPolicy

		mu   sync.Mutex
		runs map[string]*runHandle
	}

	// runHandle tracks bookkeeping for an in-flight run, letting
	// subtask_delegate correlate a child run back to its parent (§C).
	runHandle struct {
		sessionID string
		bus       *stream.Bus
		cancel    context.CancelFunc
	}
)

// NewLoop builds a Loop. logger/metrics may be nil; every other argument is
// required.
func NewLoop(store session.Store, client model.Client, registry *tools.Registry, chain *hooks.Chain, logger telemetry.Logger, metrics telemetry.Metrics, retry RetryPolicy) *Loop {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 250 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 5 * time.Second
	}
	if retry.JitterMin <= 0 {
		retry.JitterMin = 100 * time.Millisecond
	}
	if retry.JitterMax <= 0 {
		retry.JitterMax = 500 * time.Millisecond
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Loop{
		store:    store,
		model:    client,
		registry: registry,
		chain:    chain,
		logger:   logger,
		metrics:  metrics,
		retry:    retry,
		runs:     make(map[string]*runHandle),
	}
}

// IsRunInFlight reports whether sessionID currently has a run in
// progress. Used by the Recovery Manager to refuse a restore while a run
// is active (§4.8: "Restoration is only permitted when the session has no
// in-flight run").
func (l *Loop) IsRunInFlight(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rh := range l.runs {
		if rh.sessionID == sessionID {
			return true
		}
	}
	return false
}

// Run drives in to completion on bus, returning once run_finished or
// run_error has been published. bus is created and owned by the caller so
// subscribers can attach before Run starts publishing (§4.1).
func (l *Loop) Run(ctx context.Context, bus *stream.Bus, in RunInput) (RunOutput, error) {
	runID := bus.RunID()
	sess, err := l.store.Get(ctx, in.SessionID)
	if err != nil {
		return RunOutput{}, fmt.Errorf("engine: loading session %q: %w", in.SessionID, err)
	}

	deadline := in.Deadline
	if deadline.IsZero() && sess.Config.TimeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(sess.Config.TimeoutSeconds) * time.Second)
	}
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = sess.Config.TokenLimit
	}
	toolTimeout := in.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	maxOutputBytes := in.MaxOutputBytes
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutputBytes
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if !deadline.IsZero() {
		runCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	l.mu.Lock()
	l.runs[runID] = &runHandle{sessionID: in.SessionID, bus: bus, cancel: cancel}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.runs, runID)
		l.mu.Unlock()
	}()

	queryEv := hooks.QueryEvent{SessionID: in.SessionID, RunID: runID, UserMessage: in.UserMessage}
	res, err := l.chain.FireQueryStart(runCtx, queryEv)
	if err != nil {
		return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindInternal, err.Error(), nil)
	}
	if res.Outcome == hooks.Reject {
		return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindRejectedByHook, res.Reason, nil)
	}

	bus.Publish(stream.Event{Type: stream.EventRunStarted, Data: stream.RunStartedData{}})

	messages, err := l.composeHistory(runCtx, in.SessionID)
	if err != nil {
		return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindInternal, err.Error(), nil)
	}
	if _, err := l.store.AppendMessage(runCtx, in.SessionID, session.Message{Role: session.RoleUser, Content: in.UserMessage}); err != nil {
		return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindInternal, err.Error(), nil)
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: in.UserMessage}}})

	schemas := l.toolSchemas(in.Tools)
	allowed := allowSet(in.Tools)

	tokensUsed := 0
	turn := 0
	for {
		turn++
		if !deadline.IsZero() && time.Now().After(deadline) {
			return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindTimeout, "run deadline exceeded", nil)
		}
		if runCtx.Err() != nil {
			return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindCancelled, "run cancelled", nil)
		}

		req := model.Request{System: in.System, Messages: messages, Tools: schemas, MaxTokens: maxTokens}
		turnResult, err := l.runOneTurn(runCtx, bus, req)
		if err != nil {
			return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindLLMUnavailable, err.Error(), nil)
		}

		tokensUsed += turnResult.usage.InputTokens + turnResult.usage.OutputTokens
		bus.Publish(stream.Custom(stream.CustomTokenUpdate, stream.TokenUpdateData{TokensUsed: tokensUsed, MaxTokens: maxTokens}))
		if maxTokens > 0 && tokensUsed >= maxTokens {
			return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindTokenLimit, "token budget exhausted", nil)
		}

		if len(turnResult.toolCalls) == 0 {
			msg, err := l.store.AppendMessage(runCtx, in.SessionID, session.Message{Role: session.RoleAssistant, Content: turnResult.text})
			if err != nil {
				return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindInternal, err.Error(), nil)
			}
			if err := l.chain.FireQueryEnd(runCtx, queryEv); err != nil {
				l.logger.Warn(runCtx, "on_query_end hook failed", "error", err)
			}
			bus.Publish(stream.Event{Type: stream.EventRunFinished, Data: stream.RunFinishedData{}})
			return RunOutput{Message: msg, TokensUsed: tokensUsed, Turns: turn}, nil
		}

		// max_turns bounds how many tool-dispatch rounds a run may take,
		// not how many LLM calls it may make: the response that would
		// start round turn is still requested above, and only fails once
		// that response turns out to ask for another tool round (§8:
		// "max_turns = 1 with an LLM response containing a tool call:
		// executes the tool once, then loops once more; if the second
		// response has a tool call, run ends with run_error(kind=max_turns)").
		if sess.Config.MaxTurns > 0 && turn > sess.Config.MaxTurns {
			return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindMaxTurns, "maximum turn count reached", nil)
		}

		extra, err := l.dispatchToolCalls(runCtx, bus, in.SessionID, runID, turnResult.toolCalls, allowed, toolTimeout, hooks.ApprovalMode(sess.Config.ApprovalMode), maxOutputBytes)
		if err != nil {
			return RunOutput{}, l.fail(runCtx, bus, in.SessionID, runID, coreerrors.KindInternal, err.Error(), nil)
		}
		messages = append(messages, extra...)
	}
}

// fail emits the single run_error event a terminal failure produces (§7)
// and returns an error describing it to the caller.
func (l *Loop) fail(ctx context.Context, bus *stream.Bus, sessionID, runID string, kind coreerrors.Kind, message string, details map[string]any) error {
	bus.Publish(stream.Event{Type: stream.EventRunError, Data: stream.RunErrorData{Kind: string(kind), Message: message, Details: details}})
	cerr := coreerrors.New(kind, message).WithDetails(details)
	if hookErr := l.chain.FireError(ctx, hooks.ErrorEvent{SessionID: sessionID, RunID: runID, Err: cerr}); hookErr != nil {
		l.logger.Warn(ctx, "on_error hook failed", "error", hookErr)
	}
	return cerr
}

// composeHistory loads a session's full message history and converts it to
// model.Message values for the outbound LLM request.
func (l *Loop) composeHistory(ctx context.Context, sessionID string) ([]model.Message, error) {
	history, _, err := l.store.GetHistory(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	out := make([]model.Message, 0, len(history))
	for _, m := range history {
		out = append(out, toModelMessage(m))
	}
	return out, nil
}

func toModelMessage(m session.Message) model.Message {
	role := model.Role(m.Role)
	if m.Role == session.RoleTool && len(m.ToolCallIDs) > 0 {
		return model.Message{Role: role, Parts: []model.Part{model.ToolResultPart{ToolCallID: m.ToolCallIDs[0], Content: m.Content}}}
	}
	return model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: m.Content}}}
}

// toolSchemas narrows the Tool Registry's full index to names, when
// provided, converting each Descriptor to the wire shape model.Client
// expects.
func (l *Loop) toolSchemas(names []string) []model.ToolSchema {
	descriptors := l.registry.List()
	allow := allowSet(names)
	out := make([]model.ToolSchema, 0, len(descriptors))
	for _, d := range descriptors {
		if allow != nil && !allow[d.Name] {
			continue
		}
		out = append(out, model.ToolSchema{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

func allowSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// NewRunID allocates a fresh run identifier; exported for callers composing
// a Bus before invoking Run.
func NewRunID() string { return idgen.Run() }
