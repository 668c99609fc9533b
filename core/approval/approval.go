// Package approval implements the Approval Manager from spec §4.2: pending
// human-in-the-loop approvals for gated tool calls, resolved by an external
// transport layer calling Approve/Reject, or expiring on timeout.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/hooks"
	"github.com/agentflow/orchestrator/core/idgen"
	"github.com/agentflow/orchestrator/core/stream"
)

// Status is an Approval's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusTimeout  Status = "timeout"
)

// Risk is a coarse classification of a gated tool call's potential impact.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Approval is one pending-or-resolved human decision over a tool call (§3).
type Approval struct {
	ID         string
	ToolCallID string
	SessionID  string
	Risk       Risk
	RiskScore  float64
	Rationale  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Status     Status
	ResolverID string
	Comment    string
}

// Publisher is the subset of stream.Bus the Manager depends on, kept as an
// interface so tests can substitute a recording fake.
type Publisher interface {
	Publish(evt stream.Event) stream.Event
}

// Manager creates and resolves Approvals. Exactly one Approval may be
// pending per tool-call id (§3 invariant); a second Request for the same
// tool-call id returns the existing one rather than creating a duplicate.
type Manager struct {
	mu          sync.Mutex
	byID        map[string]*pendingApproval
	byToolCall  map[string]string // tool-call id -> approval id
	publisher   Publisher
}

type pendingApproval struct {
	approval Approval
	done     chan struct{}
	timer    *time.Timer
}

// NewManager builds an empty Manager. publisher may be nil, in which case
// approval_required events are not emitted (useful for tests exercising
// only the resolve/await contract).
func NewManager(publisher Publisher) *Manager {
	return &Manager{
		byID:       make(map[string]*pendingApproval),
		byToolCall: make(map[string]string),
		publisher:  publisher,
	}
}

// RequestApproval creates a pending Approval for toolCallID, or returns the
// Approval already recorded for this tool-call id, whatever its current
// status (§3: "Exactly one pending Approval may be pending per tool-call
// id"). Only a newly created Approval emits custom:approval_required at request time so the UI can
// render the prompt before the caller awaits resolution.
func (m *Manager) RequestApproval(ctx context.Context, sessionID, toolCallID, toolName string, risk Risk, rationale string, timeout time.Duration) Approval {
	m.mu.Lock()
	if existingID, ok := m.byToolCall[toolCallID]; ok {
		existing := m.byID[existingID].approval
		m.mu.Unlock()
		return existing
	}

	now := time.Now().UTC()
	a := Approval{
		ID:         idgen.Approval(),
		ToolCallID: toolCallID,
		SessionID:  sessionID,
		Risk:       risk,
		RiskScore:  riskScore(risk),
		Rationale:  rationale,
		CreatedAt:  now,
		ExpiresAt:  now.Add(timeout),
		Status:     StatusPending,
	}
	p := &pendingApproval{approval: a, done: make(chan struct{})}
	p.timer = time.AfterFunc(timeout, func() { m.expire(a.ID) })
	m.byID[a.ID] = p
	m.byToolCall[toolCallID] = a.ID
	m.mu.Unlock()

	if m.publisher != nil {
		m.publisher.Publish(stream.Custom(stream.CustomApprovalRequired, stream.ApprovalRequiredData{
			ApprovalID: a.ID,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Risk:       string(risk),
			Rationale:  rationale,
			ExpiresAt:  a.ExpiresAt,
		}))
	}
	return a
}

// Await blocks until the Approval resolves (approved/rejected), expires, or
// ctx is cancelled, returning the terminal Approval.
func (m *Manager) Await(ctx context.Context, approvalID string) (Approval, error) {
	m.mu.Lock()
	p, ok := m.byID[approvalID]
	m.mu.Unlock()
	if !ok {
		return Approval{}, coreerrors.New(coreerrors.KindApprovalNotFound, "approval not found")
	}
	select {
	case <-p.done:
		m.mu.Lock()
		a := p.approval
		m.mu.Unlock()
		return a, nil
	case <-ctx.Done():
		return Approval{}, ctx.Err()
	}
}

// Approve resolves a pending Approval as approved.
func (m *Manager) Approve(approvalID, resolverID, comment string) (Approval, error) {
	return m.resolve(approvalID, StatusApproved, resolverID, comment)
}

// Reject resolves a pending Approval as rejected.
func (m *Manager) Reject(approvalID, resolverID, reason string) (Approval, error) {
	return m.resolve(approvalID, StatusRejected, resolverID, reason)
}

func (m *Manager) resolve(approvalID string, status Status, resolverID, note string) (Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[approvalID]
	if !ok {
		return Approval{}, coreerrors.New(coreerrors.KindApprovalNotFound, "approval not found")
	}
	if p.approval.Status != StatusPending {
		return p.approval, coreerrors.New(coreerrors.KindApprovalAlreadyResolved, "approval is already resolved")
	}
	p.timer.Stop()
	p.approval.Status = status
	p.approval.ResolverID = resolverID
	p.approval.Comment = note
	close(p.done)
	return p.approval, nil
}

func (m *Manager) expire(approvalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[approvalID]
	if !ok || p.approval.Status != StatusPending {
		return
	}
	p.approval.Status = StatusTimeout
	close(p.done)
}

func riskScore(r Risk) float64 {
	switch r {
	case RiskLow:
		return 0.25
	case RiskMedium:
		return 0.5
	case RiskHigh:
		return 0.75
	case RiskCritical:
		return 1.0
	default:
		return 0.5
	}
}

// requesterAdapter adapts Manager to hooks.Requester so the Approval hook
// never depends on this package's richer Approval type directly.
type requesterAdapter struct {
	manager *Manager
}

// AsRequester returns a hooks.Requester backed by m, combining
// RequestApproval and Await into the single blocking call the Approval hook
// expects.
func (m *Manager) AsRequester() hooks.Requester {
	return requesterAdapter{manager: m}
}

func (r requesterAdapter) Request(ctx context.Context, toolCallID, toolName string, args map[string]any, risk, rationale string, timeout time.Duration) (hooks.ApprovalDecision, error) {
	a := r.manager.RequestApproval(ctx, "", toolCallID, toolName, Risk(risk), rationale, timeout)
	resolved, err := r.manager.Await(ctx, a.ID)
	if err != nil {
		return hooks.ApprovalDecision{}, err
	}
	switch resolved.Status {
	case StatusApproved:
		return hooks.ApprovalDecision{Status: hooks.ApprovalApproved}, nil
	case StatusRejected:
		return hooks.ApprovalDecision{Status: hooks.ApprovalRejected, Reason: resolved.Comment}, nil
	case StatusTimeout:
		return hooks.ApprovalDecision{Status: hooks.ApprovalTimeout}, nil
	case StatusExpired:
		return hooks.ApprovalDecision{Status: hooks.ApprovalExpired}, nil
	default:
		return hooks.ApprovalDecision{Status: hooks.ApprovalRejected, Reason: "unresolved approval status"}, nil
	}
}
