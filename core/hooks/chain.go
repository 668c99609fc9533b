package hooks

import (
	"context"
	"sort"
	"sync"
)

// Chain holds registered hooks sorted by descending priority and fires them
// at each extension point, following the policy in spec §4.2:
//   - on_query_start: first REJECT short-circuits the chain; any other
//     outcome lets the turn proceed (a MODIFY here has no effect).
//   - on_tool_call: first REJECT short-circuits the chain; MODIFY outcomes
//     accumulate so each later hook sees the modified arguments; ALLOW is
//     the identity.
//   - all other extension points are notify-all, stopping only on error.
type Chain struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewChain builds a Chain from an initial set of hooks, sorting them by
// descending priority once up front.
func NewChain(hooks ...Hook) *Chain {
	c := &Chain{}
	for _, h := range hooks {
		c.hooks = append(c.hooks, h)
	}
	c.sort()
	return c
}

// Register adds a hook to the chain, re-sorting by priority.
func (c *Chain) Register(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
	c.sort()
}

func (c *Chain) sort() {
	sort.SliceStable(c.hooks, func(i, j int) bool {
		return c.hooks[i].Priority() > c.hooks[j].Priority()
	})
}

func (c *Chain) snapshot() []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Hook, len(c.hooks))
	copy(out, c.hooks)
	return out
}

// FireSessionStart notifies every hook of a new session. The first error
// returned by a hook stops iteration and is returned to the caller.
func (c *Chain) FireSessionStart(ctx context.Context, ev SessionEvent) error {
	for _, h := range c.snapshot() {
		if err := h.OnSessionStart(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// FireSessionEnd notifies every hook of session termination.
func (c *Chain) FireSessionEnd(ctx context.Context, ev SessionEvent) error {
	for _, h := range c.snapshot() {
		if err := h.OnSessionEnd(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// FireQueryStart runs on_query_start in priority order. A REJECT aborts the
// turn per spec §4.3 step 1; this is the only other REJECT-capable
// extension point besides on_tool_call.
func (c *Chain) FireQueryStart(ctx context.Context, ev QueryEvent) (HookResult, error) {
	for _, h := range c.snapshot() {
		res, err := h.OnQueryStart(ctx, ev)
		if err != nil {
			return HookResult{}, err
		}
		if res.Outcome == Reject {
			return res, nil
		}
	}
	return AllowResult(), nil
}

// FireQueryEnd notifies every hook that a turn completed successfully.
func (c *Chain) FireQueryEnd(ctx context.Context, ev QueryEvent) error {
	for _, h := range c.snapshot() {
		if err := h.OnQueryEnd(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// FireToolCall runs on_tool_call in priority order, applying the
// short-circuit-on-REJECT / accumulate-on-MODIFY policy. The returned
// HookResult's Args field (when Outcome == Modify) holds the final
// arguments after every hook that ran.
func (c *Chain) FireToolCall(ctx context.Context, ev ToolCallEvent) (HookResult, error) {
	args := ev.Args
	modified := false
	for _, h := range c.snapshot() {
		step := ev
		step.Args = args
		res, err := h.OnToolCall(ctx, step)
		if err != nil {
			return HookResult{}, err
		}
		switch res.Outcome {
		case Reject:
			return res, nil
		case Modify:
			args = res.Args
			modified = true
		}
	}
	if modified {
		return ModifyResult(args), nil
	}
	return AllowResult(), nil
}

// FireToolResult notifies every hook of a tool call's outcome.
func (c *Chain) FireToolResult(ctx context.Context, ev ToolResultEvent) error {
	for _, h := range c.snapshot() {
		if err := h.OnToolResult(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// FireError notifies every hook of a run-terminating error.
func (c *Chain) FireError(ctx context.Context, ev ErrorEvent) error {
	for _, h := range c.snapshot() {
		if err := h.OnError(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
