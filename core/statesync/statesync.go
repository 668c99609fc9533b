// Package statesync implements the Shared State tree from spec §4.6: one
// JSON-like document per session, mutated by ordered add/replace/remove/
// move operations and synchronized to clients as versioned
// snapshot/delta events.
package statesync

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentflow/orchestrator/core/stream"
)

// Op is one of the four mutation kinds a shared-state diff may carry
// (§4.6).
type Op string

const (
	OpAdd     Op = "add"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
	OpMove    Op = "move"
)

// ServerOp is one server-originated mutation, applied unconditionally.
type ServerOp struct {
	Path  string
	Op    Op
	Value any
	From  string // source path, Op == OpMove only
}

// ClientDiff is one client-originated mutation submitted against a
// believed base version. OldValue is the value the client last observed
// at Path; it is the last-write-wins policy's conflict check (§4.6).
type ClientDiff struct {
	Path     string
	Op       Op
	Value    any
	OldValue any
	From     string
}

type document struct {
	raw     []byte
	version uint64
}

// Store holds one shared-state tree per session. A single store-wide
// mutex guards every session's tree, so reads and writes of different
// sessions are serialized as well; each write is short and bumps the
// version under that mutex.
type Store struct {
	mu   sync.Mutex
	docs map[string]*document
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{docs: make(map[string]*document)}
}

// Snapshot returns sessionID's current document and version, initializing
// an empty `{}` tree on first use (§4.6: "on subscribe the server emits
// state_snapshot(value, version=v)").
func (s *Store) Snapshot(sessionID string) (json.RawMessage, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docLocked(sessionID)
	out := make([]byte, len(doc.raw))
	copy(out, doc.raw)
	return out, doc.version
}

func (s *Store) docLocked(sessionID string) *document {
	doc, ok := s.docs[sessionID]
	if !ok {
		doc = &document{raw: []byte("{}"), version: 0}
		s.docs[sessionID] = doc
	}
	return doc
}

// ApplyServer applies ops unconditionally and bumps the version by one
// (§4.6: "Server-originated mutations emit state_delta(ops, version=v+1,
// base_version=v)").
func (s *Store) ApplyServer(sessionID string, ops []ServerOp) (stream.StateDeltaData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docLocked(sessionID)
	base := doc.version

	raw := doc.raw
	applied := make([]stream.StateDeltaOp, 0, len(ops))
	for _, op := range ops {
		next, err := applyOp(raw, op.Path, op.Op, op.Value, op.From)
		if err != nil {
			return stream.StateDeltaData{}, fmt.Errorf("statesync: applying server op %s %s: %w", op.Op, op.Path, err)
		}
		raw = next
		applied = append(applied, stream.StateDeltaOp{Path: op.Path, Op: string(op.Op), Value: op.Value, From: op.From})
	}

	doc.raw = raw
	doc.version = base + 1
	return stream.StateDeltaData{Ops: applied, BaseVersion: base, Version: doc.version}, nil
}

// ReplaceDocument overwrites sessionID's entire document with raw and
// bumps its version by one. Used by the Recovery Manager to restore a
// Checkpoint's shared-state snapshot (§4.8), which captures the whole
// document rather than a path-scoped op.
func (s *Store) ReplaceDocument(sessionID string, raw json.RawMessage) (stream.StateDeltaData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docLocked(sessionID)
	base := doc.version

	out := make([]byte, len(raw))
	copy(out, raw)
	doc.raw = out
	doc.version = base + 1
	return stream.StateDeltaData{
		Ops:         []stream.StateDeltaOp{{Path: "", Op: string(OpReplace), Value: json.RawMessage(out)}},
		BaseVersion: base,
		Version:     doc.version,
	}, nil
}

// DiffResult is the outcome of one client diff batch: the state_delta
// produced by whatever applied cleanly, plus one PredictionConflictedData
// per diff that lost to the last-write-wins check.
type DiffResult struct {
	Delta          stream.StateDeltaData
	Conflicts      []stream.PredictionConflictedData
	AppliedDiffs   int
	SubmittedDiffs int
}

// ApplyClientDiffs applies a batch of client-originated diffs per §4.6's
// last-write-wins policy: if baseVersion equals the server's current
// version the whole batch fast-forwards; otherwise each diff is checked
// against the server's current value at its path and applied or marked
// conflicted individually.
func (s *Store) ApplyClientDiffs(sessionID string, baseVersion uint64, diffs []ClientDiff) (DiffResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docLocked(sessionID)
	base := doc.version
	fastForward := baseVersion == doc.version

	raw := doc.raw
	var applied []stream.StateDeltaOp
	var conflicts []stream.PredictionConflictedData

	for _, diff := range diffs {
		if !fastForward {
			current := gjson.GetBytes(raw, diff.Path).Value()
			if !valuesEqual(current, diff.OldValue) {
				conflicts = append(conflicts, stream.PredictionConflictedData{Path: diff.Path, ServerValue: current, ClientValue: diff.Value})
				continue
			}
		}
		next, err := applyOp(raw, diff.Path, diff.Op, diff.Value, diff.From)
		if err != nil {
			conflicts = append(conflicts, stream.PredictionConflictedData{Path: diff.Path, ServerValue: gjson.GetBytes(raw, diff.Path).Value(), ClientValue: diff.Value})
			continue
		}
		raw = next
		applied = append(applied, stream.StateDeltaOp{Path: diff.Path, Op: string(diff.Op), Value: diff.Value, From: diff.From})
	}

	result := DiffResult{Conflicts: conflicts, AppliedDiffs: len(applied), SubmittedDiffs: len(diffs)}
	if len(applied) == 0 {
		result.Delta = stream.StateDeltaData{BaseVersion: base, Version: base}
		return result, nil
	}

	doc.raw = raw
	doc.version = base + 1
	result.Delta = stream.StateDeltaData{Ops: applied, BaseVersion: base, Version: doc.version}
	return result, nil
}

func applyOp(doc []byte, path string, op Op, value any, from string) ([]byte, error) {
	switch op {
	case OpAdd, OpReplace:
		return sjson.SetBytes(doc, path, value)
	case OpRemove:
		return sjson.DeleteBytes(doc, path)
	case OpMove:
		val := gjson.GetBytes(doc, from).Value()
		next, err := sjson.DeleteBytes(doc, from)
		if err != nil {
			return nil, fmt.Errorf("deleting move source %q: %w", from, err)
		}
		return sjson.SetBytes(next, path, val)
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

// valuesEqual compares a server-read gjson value against a client-supplied
// Go value, normalizing integer literals to float64 so they compare equal
// to values gjson decodes from JSON numbers.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeNumber(a), normalizeNumber(b))
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return v
}
