// Package recovery implements the Recovery Manager from spec §4.8:
// immutable Checkpoints capturing a session's message-prefix length,
// tool-call graph, and shared-state snapshot, with restore permitted only
// while no run is in flight.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/idgen"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/statesync"
	"github.com/agentflow/orchestrator/core/stream"
)

// Truncator discards a session's message history beyond a prefix length.
// Only the Recovery Manager is permitted to do this (§4.8); it is kept
// separate from session.Store because no other caller should ever
// truncate history.
type Truncator interface {
	Truncate(sessionID string, prefixLen int) error
}

// RunTracker reports whether a session currently has a run in flight, so
// Restore can refuse per §4.8's "no in-flight run" precondition.
type RunTracker interface {
	IsRunInFlight(sessionID string) bool
}

// ToolCallNode is one tool call captured into a Checkpoint's tool-call
// graph, in the order it was appended to the session.
type ToolCallNode struct {
	ID       string
	ToolName string
	Status   session.ToolCallStatus
}

// Checkpoint is an immutable capture of a session's recoverable state
// (§4.8): a message prefix length, the tool-call graph up to that prefix,
// and a shared-state snapshot+version.
type Checkpoint struct {
	ID               string
	SessionID        string
	MessagePrefixLen int
	ToolCallGraph    []ToolCallNode
	StateSnapshot    json.RawMessage
	StateVersion     uint64
	CreatedAt        time.Time
}

// Manager creates and restores Checkpoints. Built once per process;
// checkpoint storage is in-memory and keyed by checkpoint id, mirroring
// core/session/inmem's mutex-guarded-map pattern.
type Manager struct {
	store     session.Store
	truncator Truncator
	stateSync *statesync.Store
	tracker   RunTracker

	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
}

// NewManager builds a Manager.
func NewManager(store session.Store, truncator Truncator, stateSync *statesync.Store, tracker RunTracker) *Manager {
	return &Manager{
		store:       store,
		truncator:   truncator,
		stateSync:   stateSync,
		tracker:     tracker,
		checkpoints: make(map[string]*Checkpoint),
	}
}

// CreateCheckpoint captures sessionID's current message prefix, tool-call
// graph, and shared-state snapshot, and returns the new checkpoint's id.
// Implements orchestrator.Checkpointer, so the Workflow Runner can take a
// Checkpoint between steps (§4.5) without core/orchestrator importing this
// package.
func (m *Manager) CreateCheckpoint(ctx context.Context, sessionID string) (string, error) {
	cp, err := m.Create(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return cp.ID, nil
}

// Create is CreateCheckpoint's full-detail form, returning the captured
// Checkpoint rather than just its id.
func (m *Manager) Create(ctx context.Context, sessionID string) (Checkpoint, error) {
	history, _, err := m.store.GetHistory(ctx, sessionID, 0, 0)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("recovery: loading history for %q: %w", sessionID, err)
	}

	graph, err := m.toolCallGraph(ctx, sessionID, history)
	if err != nil {
		return Checkpoint{}, err
	}

	var snapshot json.RawMessage
	var version uint64
	if m.stateSync != nil {
		snapshot, version = m.stateSync.Snapshot(sessionID)
	}

	cp := Checkpoint{
		ID:               idgen.Checkpoint(),
		SessionID:        sessionID,
		MessagePrefixLen: len(history),
		ToolCallGraph:    graph,
		StateSnapshot:    snapshot,
		StateVersion:     version,
		CreatedAt:        time.Now(),
	}

	m.mu.Lock()
	m.checkpoints[cp.ID] = &cp
	m.mu.Unlock()
	return cp, nil
}

// toolCallGraph collects, in append order, every tool call referenced by
// history's messages. It is a graph only in the loose sense spec §4.8
// uses the term: tool calls ordered by the message timeline that produced
// them, which is enough to explain "what happened" on restore.
func (m *Manager) toolCallGraph(ctx context.Context, sessionID string, history []session.Message) ([]ToolCallNode, error) {
	var graph []ToolCallNode
	seen := make(map[string]bool)
	for _, msg := range history {
		for _, tcID := range msg.ToolCallIDs {
			if seen[tcID] {
				continue
			}
			seen[tcID] = true
			tc, err := m.store.GetToolCall(ctx, sessionID, tcID)
			if err != nil {
				return nil, fmt.Errorf("recovery: loading tool call %q: %w", tcID, err)
			}
			graph = append(graph, ToolCallNode{ID: tc.ID, ToolName: tc.ToolName, Status: tc.Status})
		}
	}
	return graph, nil
}

// Restore truncates sessionID to checkpointID's captured message prefix,
// replaces its shared state, and publishes custom:checkpoint_created
// (restored=true) plus a fresh state_snapshot (§4.8). Restoration is
// refused with KindInvalidState while a run is in flight.
func (m *Manager) Restore(ctx context.Context, bus *stream.Bus, sessionID, checkpointID string) (Checkpoint, error) {
	if m.tracker != nil && m.tracker.IsRunInFlight(sessionID) {
		return Checkpoint{}, coreerrors.New(coreerrors.KindInvalidState, "cannot restore a checkpoint while a run is in flight")
	}

	m.mu.Lock()
	cp, ok := m.checkpoints[checkpointID]
	m.mu.Unlock()
	if !ok {
		return Checkpoint{}, coreerrors.New(coreerrors.KindSessionNotFound, "checkpoint not found")
	}
	if cp.SessionID != sessionID {
		return Checkpoint{}, coreerrors.New(coreerrors.KindInvalidState, "checkpoint does not belong to this session")
	}

	if err := m.truncator.Truncate(sessionID, cp.MessagePrefixLen); err != nil {
		return Checkpoint{}, fmt.Errorf("recovery: truncating session %q: %w", sessionID, err)
	}

	if m.stateSync != nil && len(cp.StateSnapshot) > 0 {
		if _, err := m.stateSync.ReplaceDocument(sessionID, cp.StateSnapshot); err != nil {
			return Checkpoint{}, fmt.Errorf("recovery: replacing shared state for %q: %w", sessionID, err)
		}
	}

	bus.Publish(stream.Custom(stream.CustomCheckpointCreated, stream.CheckpointCreatedData{CheckpointID: cp.ID, Restored: true}))
	if m.stateSync != nil {
		m.stateSync.PublishSnapshot(bus, sessionID)
	}

	return *cp, nil
}
