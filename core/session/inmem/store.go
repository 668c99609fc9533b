// Package inmem provides an in-memory implementation of session.Store,
// following the mutex-guarded-map pattern the teacher uses in
// runtime/agent/session/inmem/store.go. It is intended for tests and local
// development; durable deployments plug in a different session.Store (out of
// scope for this core — see spec §6.4).
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core"
	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/session"
	"github.com/agentflow/orchestrator/core/toolerrors"
)

// Store is an in-memory implementation of session.Store. Safe for
// concurrent use. Per-session mutation is serialized through a per-session
// lock so appends never interleave (§5).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

type record struct {
	mu        sync.Mutex
	session   session.Session
	messages  []session.Message
	toolCalls map[string]session.ToolCall
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*record)}
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[id]
	return r, ok
}

// Create implements session.Store.
func (s *Store) Create(_ context.Context, id string, cfg session.Config) (session.Session, error) {
	if id == "" {
		return session.Session{}, errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.session.Status == session.StatusEnded {
			return session.Session{}, coreerrors.ErrSessionEnded
		}
		return r.session, nil
	}
	sess := session.Session{
		ID:        id,
		Status:    session.StatusActive,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		Revision:  1,
	}
	s.sessions[id] = &record{session: sess, toolCalls: make(map[string]session.ToolCall)}
	return sess, nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, id string) (session.Session, error) {
	r, ok := s.lookup(id)
	if !ok {
		return session.Session{}, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session, nil
}

// End implements session.Store. Ending an already-ended session is
// idempotent (§3 invariants: "Session.status = ended forbids any append").
func (s *Store) End(_ context.Context, id string, endedAt time.Time) (session.Session, error) {
	r, ok := s.lookup(id)
	if !ok {
		return session.Session{}, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Status == session.StatusEnded {
		return r.session, nil
	}
	r.session.Status = session.StatusEnded
	r.session.Revision++
	_ = endedAt
	return r.session, nil
}

// AppendMessage implements session.Store.
func (s *Store) AppendMessage(_ context.Context, sessionID string, msg session.Message) (session.Message, error) {
	r, ok := s.lookup(sessionID)
	if !ok {
		return session.Message{}, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Status == session.StatusEnded {
		return session.Message{}, coreerrors.ErrSessionEnded
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.messages = append(r.messages, msg)
	r.session.Revision++
	return msg, nil
}

// AppendToolCall implements session.Store.
func (s *Store) AppendToolCall(_ context.Context, sessionID string, tc session.ToolCall) (session.ToolCall, error) {
	r, ok := s.lookup(sessionID)
	if !ok {
		return session.ToolCall{}, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Status == session.StatusEnded {
		return session.ToolCall{}, coreerrors.ErrSessionEnded
	}
	r.toolCalls[tc.ID] = tc
	r.session.Revision++
	return tc, nil
}

// UpdateToolCallStatus implements session.Store.
func (s *Store) UpdateToolCallStatus(_ context.Context, sessionID, toolCallID string, status session.ToolCallStatus, result any, toolErr *toolerrors.ToolError, bounds *core.Bounds) (session.ToolCall, error) {
	r, ok := s.lookup(sessionID)
	if !ok {
		return session.ToolCall{}, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tc, ok := r.toolCalls[toolCallID]
	if !ok {
		return session.ToolCall{}, coreerrors.ErrToolNotFound
	}
	tc.Status = status
	tc.Result = result
	tc.Error = toolErr
	tc.Bounds = bounds
	now := time.Now().UTC()
	if status == session.ToolCallExecuting && tc.StartedAt == nil {
		tc.StartedAt = &now
	}
	if status.IsTerminal() {
		tc.EndedAt = &now
	}
	r.toolCalls[toolCallID] = tc
	r.session.Revision++
	return tc, nil
}

// GetToolCall implements session.Store.
func (s *Store) GetToolCall(_ context.Context, sessionID, toolCallID string) (session.ToolCall, error) {
	r, ok := s.lookup(sessionID)
	if !ok {
		return session.ToolCall{}, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tc, ok := r.toolCalls[toolCallID]
	if !ok {
		return session.ToolCall{}, coreerrors.ErrToolNotFound
	}
	return tc, nil
}

// GetHistory implements session.Store. cursor is the sequence index (0-based
// count of messages already seen); the result is stable under concurrent
// appends because it is resolved against the message count at call time.
func (s *Store) GetHistory(_ context.Context, sessionID string, cursor, limit int) ([]session.Message, int, error) {
	r, ok := s.lookup(sessionID)
	if !ok {
		return nil, 0, coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cursor < 0 || cursor > len(r.messages) {
		cursor = 0
	}
	end := len(r.messages)
	if limit > 0 && cursor+limit < end {
		end = cursor + limit
	}
	out := make([]session.Message, end-cursor)
	copy(out, r.messages[cursor:end])
	return out, end, nil
}

// Fork implements session.Store. The forked session's message and tool-call
// graphs are deep-copied; subsequent appends to either do not appear in the
// other (§4.4 invariant #6).
func (s *Store) Fork(_ context.Context, sourceID, newID, label string) (session.Session, error) {
	src, ok := s.lookup(sourceID)
	if !ok {
		return session.Session{}, coreerrors.ErrSessionNotFound
	}
	src.mu.Lock()
	messages := make([]session.Message, len(src.messages))
	copy(messages, src.messages)
	toolCalls := make(map[string]session.ToolCall, len(src.toolCalls))
	for k, v := range src.toolCalls {
		toolCalls[k] = v
	}
	cfg := src.session.Config
	src.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[newID]; exists {
		return session.Session{}, errors.New("forked session id already exists")
	}
	name := label
	forked := session.Session{
		ID:        newID,
		Name:      name,
		Status:    session.StatusActive,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		Revision:  1,
	}
	s.sessions[newID] = &record{session: forked, messages: messages, toolCalls: toolCalls}
	return forked, nil
}

// Truncate cuts a session's message list back to prefixLen, discarding the
// suffix. Used by the Recovery Manager to restore a Checkpoint (§4.8); not
// part of session.Store because only Recovery restores checkpoints.
func (s *Store) Truncate(sessionID string, prefixLen int) error {
	r, ok := s.lookup(sessionID)
	if !ok {
		return coreerrors.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prefixLen < 0 || prefixLen > len(r.messages) {
		return errors.New("invalid checkpoint prefix length")
	}
	r.messages = r.messages[:prefixLen]
	r.session.Revision++
	return nil
}
