package hooks

import (
	"context"
	"time"
)

// ApprovalMode mirrors session.Config.ApprovalMode, duplicated here (rather
// than imported) for the same reason as ApprovalStatus below.
type ApprovalMode string

const (
	ApprovalModeAuto   ApprovalMode = "auto"
	ApprovalModeManual ApprovalMode = "manual"
)

// ApprovalStatus mirrors session.Approval's status field, duplicated here
// (rather than imported) to keep hooks free of a session package
// dependency; the approval package's Manager implements Requester against
// its own richer Approval type and maps onto this narrower view.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// ApprovalDecision is the terminal outcome of a Requester.Request call.
type ApprovalDecision struct {
	Status ApprovalStatus
	Reason string
}

// Requester is the capability the Approval hook depends on: the Approval
// Manager (core/approval) implements this by creating a pending Approval
// and blocking the caller until it resolves or expires (§4.2).
type Requester interface {
	Request(ctx context.Context, toolCallID, toolName string, args map[string]any, risk, rationale string, timeout time.Duration) (ApprovalDecision, error)
}

// RiskClassifier assigns a risk level and rationale to a tool call about to
// require approval. DefaultRiskClassifier returns a fixed "medium" risk;
// callers needing finer-grained classification (e.g. per-tool risk tables)
// supply their own.
type RiskClassifier func(ev ToolCallEvent) (risk, rationale string)

// DefaultRiskClassifier classifies every gated tool call as medium risk.
func DefaultRiskClassifier(ev ToolCallEvent) (string, string) {
	return "medium", "tool " + ev.ToolName + " requires human approval"
}

// DefaultApprovalTools is the default set of tools gated by the Approval
// hook (§4.2: "defaults: write/edit/multi-edit/exec").
var DefaultApprovalTools = map[string]bool{
	"file_write":      true,
	"file_edit":       true,
	"file_multi_edit": true,
	"shell_exec":      true,
}

// Approval calls out to an Requester for every tool call in its configured
// set, allowing only if the approval resolves "approved" before its
// deadline (§4.2 priority 90).
type Approval struct {
	Base

	requester Requester
	gated     map[string]bool
	timeout   time.Duration
	classify  RiskClassifier
}

// NewApproval builds an Approval hook. gated may be nil to use
// DefaultApprovalTools. timeout bounds how long the hook waits for a
// resolution before treating the call as rejected.
func NewApproval(requester Requester, gated map[string]bool, timeout time.Duration, classify RiskClassifier) *Approval {
	if gated == nil {
		gated = DefaultApprovalTools
	}
	if classify == nil {
		classify = DefaultRiskClassifier
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Approval{requester: requester, gated: gated, timeout: timeout, classify: classify}
}

func (a *Approval) Name() string  { return "approval" }
func (a *Approval) Priority() int { return 90 }

// OnToolCall implements Hook.
func (a *Approval) OnToolCall(ctx context.Context, ev ToolCallEvent) (HookResult, error) {
	if !a.gated[ev.ToolName] {
		return AllowResult(), nil
	}
	if ev.ApprovalMode == ApprovalModeAuto {
		return AllowResult(), nil
	}
	risk, rationale := a.classify(ev)
	decision, err := a.requester.Request(ctx, ev.ToolCallID, ev.ToolName, ev.Args, risk, rationale, a.timeout)
	if err != nil {
		return HookResult{}, err
	}
	if decision.Status == ApprovalApproved {
		return AllowResult(), nil
	}
	reason := decision.Reason
	if reason == "" {
		reason = string(decision.Status)
	}
	return RejectResult(reason), nil
}
