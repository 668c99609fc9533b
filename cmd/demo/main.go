// Command demo wires every orchestration-core component together end to
// end, following the teacher's own cmd/demo/main.go: build the pieces by
// hand, register a toy agent, run one turn, and print the result. It has
// no CLI flags beyond an optional config path; it exists to prove the
// core boots, not to be a deployable server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/core/approval"
	"github.com/agentflow/orchestrator/core/engine"
	"github.com/agentflow/orchestrator/core/hooks"
	"github.com/agentflow/orchestrator/core/idgen"
	"github.com/agentflow/orchestrator/core/intent"
	"github.com/agentflow/orchestrator/core/model"
	"github.com/agentflow/orchestrator/core/orchestrator"
	"github.com/agentflow/orchestrator/core/recovery"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/session/inmem"
	"github.com/agentflow/orchestrator/core/statesync"
	"github.com/agentflow/orchestrator/core/stream"
	"github.com/agentflow/orchestrator/core/telemetry"
	"github.com/agentflow/orchestrator/core/tools"
	"github.com/agentflow/orchestrator/core/transport"
)

// echoClient is a minimal model.Client that answers every turn with a
// fixed assistant reply and no tool calls, the same role the teacher's
// stubPlanner plays for its demo: prove the wiring runs without needing a
// real model credential.
type echoClient struct{ reply string }

func (c echoClient) StreamChat(_ context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	ch := make(chan model.StreamEvent, 4)
	go func() {
		defer close(ch)
		reply := c.reply
		if reply == "" {
			reply = "Hello from the orchestration core!"
		}
		ch <- model.StreamEvent{Kind: model.EventTextDelta, TextDelta: reply}
		ch <- model.StreamEvent{Kind: model.EventUsage, Usage: model.TokenUsage{
			InputTokens: len(req.Messages), OutputTokens: len(reply) / 4, Model: "demo-echo",
		}}
		ch <- model.StreamEvent{Kind: model.EventEnd}
	}()
	return ch, nil
}

// stdoutSink prints every frame as a line of JSON, the simplest possible
// transport.Sink implementation.
type stdoutSink struct{ w *bufio.Writer }

func (s stdoutSink) Send(_ context.Context, frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s stdoutSink) Close(context.Context) error { return s.w.Flush() }

func main() {
	ctx := context.Background()

	cfg := config.Default()
	if path := os.Getenv("ORCHESTRATOR_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := telemetry.NewSlogLogger(nil)

	// 1) Session store and a single demo session.
	store := inmem.New()
	sessionID := idgen.Session()
	if _, err := store.Create(ctx, sessionID, cfg.SessionConfig()); err != nil {
		panic(err)
	}

	// 2) Tool Registry with a couple of built-ins, gated by the Sandbox
	// hook's allow-list.
	registry := tools.NewRegistry()
	if err := registry.Register(tools.FileRead{}); err != nil {
		panic(err)
	}
	if err := registry.Register(tools.Glob{}); err != nil {
		panic(err)
	}

	// The Approval Manager publishes approval_required onto the run's bus,
	// so it needs to exist before the chain does.
	bus := stream.NewBus(idgen.Run(), sessionID)

	sandbox, err := hooks.NewSandbox(cfg.AllowedPaths, cfg.DeniedPatterns)
	if err != nil {
		panic(err)
	}
	approvalMgr := approval.NewManager(bus)
	chain := hooks.NewChain(sandbox, hooks.NewApproval(approvalMgr.AsRequester(), nil, 0, nil), hooks.NewAudit(logger))

	// 3) Agentic Loop over the echo model.
	loop := engine.NewLoop(store, echoClient{}, registry, chain, logger, nil, engine.RetryPolicy{})

	// 4) Intent Router, Shared State, Recovery Manager, Orchestrator.
	router := intent.NewRouter(intent.DefaultKeywordSets(), intent.DefaultCapabilities(), nil)
	stateSync := statesync.NewStore()
	recoveryMgr := recovery.NewManager(store, store, stateSync, loop)
	orch := orchestrator.New(loop, router, stateSync, nil, recoveryMgr, logger)

	// 5) Submit one turn and stream the result to stdout via the Stream
	// Transport. cfg.ApprovalMode defaults to "manual"; set
	// approval_mode: auto in the config file to make the Approval hook
	// short-circuit to ALLOW for its gated tools instead of waiting on a
	// resolution.
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr := transport.New(bus, stdoutSink{w: bufio.NewWriter(os.Stdout)}, transport.Config{
			HeartbeatInterval: cfg.HeartbeatDuration(),
		})
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tr.Run(runCtx); err != nil {
			fmt.Fprintln(os.Stderr, "transport:", err)
		}
	}()

	out, err := orch.Submit(ctx, bus, orchestrator.Input{
		SessionID:   sessionID,
		UserMessage: "hello, what can you help me with?",
	})
	bus.Close()
	<-done

	if err != nil {
		fmt.Fprintln(os.Stderr, "submit:", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "assistant:", out.Message.Content)
}
