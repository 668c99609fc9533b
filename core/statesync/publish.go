package statesync

import (
	"github.com/agentflow/orchestrator/core/stream"
)

// PublishSnapshot emits state_snapshot for a late subscriber, per §4.6's
// "on subscribe the server emits state_snapshot(value, version=v)".
func (s *Store) PublishSnapshot(bus *stream.Bus, sessionID string) {
	value, version := s.Snapshot(sessionID)
	bus.Publish(stream.Event{Type: stream.EventStateSnapshot, Data: stream.StateSnapshotData{Value: value, Version: version}})
}

// PublishServer applies ops and publishes the resulting state_delta.
func (s *Store) PublishServer(bus *stream.Bus, sessionID string, ops []ServerOp) error {
	delta, err := s.ApplyServer(sessionID, ops)
	if err != nil {
		return err
	}
	bus.Publish(stream.Event{Type: stream.EventStateDelta, Data: delta})
	return nil
}

// PublishClientDiffs applies a client diff batch and publishes the full
// outcome: a state_delta for whatever applied, one
// custom:prediction_confirmed per applied diff, one
// custom:prediction_conflicted per conflicting diff, and (when every diff
// in a non-empty batch lost to the conflict check) a single
// custom:prediction_rolled_back signaling the client's entire optimistic
// batch was reverted.
func (s *Store) PublishClientDiffs(bus *stream.Bus, sessionID string, baseVersion uint64, diffs []ClientDiff) (DiffResult, error) {
	result, err := s.ApplyClientDiffs(sessionID, baseVersion, diffs)
	if err != nil {
		return DiffResult{}, err
	}

	if result.AppliedDiffs > 0 {
		bus.Publish(stream.Event{Type: stream.EventStateDelta, Data: result.Delta})
		for _, op := range result.Delta.Ops {
			bus.Publish(stream.Custom(stream.CustomPredictionConfirmed, op))
		}
	}
	for _, conflict := range result.Conflicts {
		bus.Publish(stream.Custom(stream.CustomPredictionConflicted, conflict))
	}
	if result.SubmittedDiffs > 0 && result.AppliedDiffs == 0 {
		bus.Publish(stream.Custom(stream.CustomPredictionRolledBack, struct {
			SessionID string `json:"session_id"`
		}{SessionID: sessionID}))
	}

	return result, nil
}
