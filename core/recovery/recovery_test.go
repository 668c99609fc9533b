package recovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/recovery"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/session/inmem"
	"github.com/agentflow/orchestrator/core/statesync"
	"github.com/agentflow/orchestrator/core/stream"
)

// fakeRunTracker lets tests force Restore's in-flight check without a real
// engine.Loop.
type fakeRunTracker struct{ inFlight bool }

func (f *fakeRunTracker) IsRunInFlight(string) bool { return f.inFlight }

func newBus(sessionID string) *stream.Bus {
	return stream.NewBus("run-1", sessionID)
}

func seedSession(t *testing.T, store *inmem.Store, sessionID string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Create(ctx, sessionID, session.Config{})
	require.NoError(t, err)
}

func TestCreateCheckpointCapturesPrefixAndToolCallGraph(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	seedSession(t, store, "sess-1")

	_, err := store.AppendMessage(ctx, "sess-1", session.Message{ID: "m1", Role: session.RoleUser, Content: "do the thing"})
	require.NoError(t, err)

	tc, err := store.AppendToolCall(ctx, "sess-1", session.ToolCall{ID: "tc1", ToolName: "search", Status: session.ToolCallCompleted})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, "sess-1", session.Message{ID: "m2", Role: session.RoleAssistant, Content: "done", ToolCallIDs: []string{tc.ID}})
	require.NoError(t, err)

	sync := statesync.NewStore()
	_, err = sync.ApplyServer("sess-1", []statesync.ServerOp{{Path: "progress", Op: statesync.OpAdd, Value: "started"}})
	require.NoError(t, err)

	mgr := recovery.NewManager(store, store, sync, &fakeRunTracker{})
	cp, err := mgr.Create(ctx, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", cp.SessionID)
	assert.Equal(t, 2, cp.MessagePrefixLen)
	require.Len(t, cp.ToolCallGraph, 1)
	assert.Equal(t, "tc1", cp.ToolCallGraph[0].ID)
	assert.Equal(t, "search", cp.ToolCallGraph[0].ToolName)
	assert.Equal(t, session.ToolCallCompleted, cp.ToolCallGraph[0].Status)
	assert.Equal(t, uint64(1), cp.StateVersion)
	assert.NotEmpty(t, cp.ID)
}

func TestCreateCheckpointSatisfiesOrchestratorCheckpointer(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	seedSession(t, store, "sess-1")
	mgr := recovery.NewManager(store, store, statesync.NewStore(), &fakeRunTracker{})

	id, err := mgr.CreateCheckpoint(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRestoreTruncatesHistoryAndReplacesState(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	seedSession(t, store, "sess-1")

	_, err := store.AppendMessage(ctx, "sess-1", session.Message{ID: "m1", Role: session.RoleUser, Content: "first"})
	require.NoError(t, err)

	sync := statesync.NewStore()
	_, err = sync.ApplyServer("sess-1", []statesync.ServerOp{{Path: "phase", Op: statesync.OpAdd, Value: "one"}})
	require.NoError(t, err)

	mgr := recovery.NewManager(store, store, sync, &fakeRunTracker{})
	cp, err := mgr.Create(ctx, "sess-1")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, "sess-1", session.Message{ID: "m2", Role: session.RoleAssistant, Content: "second"})
	require.NoError(t, err)
	_, err = sync.ApplyServer("sess-1", []statesync.ServerOp{{Path: "phase", Op: statesync.OpReplace, Value: "two"}})
	require.NoError(t, err)

	bus := newBus("sess-1")
	sub := bus.Subscribe(32)

	restored, err := mgr.Restore(ctx, bus, "sess-1", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, restored.ID)
	bus.Close()

	history, _, err := store.GetHistory(ctx, "sess-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "first", history[0].Content)

	raw, version := sync.Snapshot("sess-1")
	assert.JSONEq(t, `{"phase":"one"}`, string(raw))
	assert.Equal(t, uint64(2), version)

	var sawCheckpointCreated, sawSnapshot bool
	for evt := range sub.Events() {
		switch evt.Type {
		case stream.EventCustom:
			if evt.Data.(stream.CustomData).Kind == stream.CustomCheckpointCreated {
				data := evt.Data.(stream.CustomData).Data.(stream.CheckpointCreatedData)
				assert.True(t, data.Restored)
				sawCheckpointCreated = true
			}
		case stream.EventStateSnapshot:
			sawSnapshot = true
		}
	}
	assert.True(t, sawCheckpointCreated)
	assert.True(t, sawSnapshot)
}

func TestRestoreRefusedWhileRunInFlight(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	seedSession(t, store, "sess-1")
	mgr := recovery.NewManager(store, store, statesync.NewStore(), &fakeRunTracker{inFlight: true})

	cp, err := mgr.Create(ctx, "sess-1")
	require.NoError(t, err)

	bus := newBus("sess-1")
	_, err = mgr.Restore(ctx, bus, "sess-1", cp.ID)
	require.Error(t, err)
	var coreErr *coreerrors.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, coreerrors.KindInvalidState, coreErr.Kind())
}

func TestRestoreUnknownCheckpointErrors(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	seedSession(t, store, "sess-1")
	mgr := recovery.NewManager(store, store, statesync.NewStore(), &fakeRunTracker{})

	bus := newBus("sess-1")
	_, err := mgr.Restore(ctx, bus, "sess-1", "ckpt-missing")
	require.Error(t, err)
}

func TestRestoreRejectsCheckpointFromAnotherSession(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	seedSession(t, store, "sess-1")
	seedSession(t, store, "sess-2")
	mgr := recovery.NewManager(store, store, statesync.NewStore(), &fakeRunTracker{})

	cp, err := mgr.Create(ctx, "sess-1")
	require.NoError(t, err)

	bus := newBus("sess-2")
	_, err = mgr.Restore(ctx, bus, "sess-2", cp.ID)
	require.Error(t, err)
}
