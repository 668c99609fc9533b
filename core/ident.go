// Package core defines small, widely shared value types used across the
// orchestration packages: stable identifiers and result-bounding metadata.
// Keeping these here avoids import cycles between session, stream, hooks,
// and tools, which all need to refer to the same identifier and bounds
// shapes without depending on each other.
package core

import "fmt"

// Ident is a strong string type for fully qualified entity identifiers
// (sessions, messages, tool calls, approvals, checkpoints, runs). Using a
// named type instead of a bare string prevents accidental mixing of
// unrelated identifier spaces in maps and function signatures.
type Ident string

// String implements fmt.Stringer.
func (i Ident) String() string { return string(i) }

// Empty reports whether the identifier is unset.
func (i Ident) Empty() bool { return i == "" }

// Bounds describes how a tool result has been capped relative to the full
// underlying data set (for example, list/window/graph caps). Tools that
// truncate large outputs attach a Bounds value alongside the truncation
// marker so downstream consumers (streaming, session history, the LLM
// itself) can tell a capped result from a complete one without re-deriving
// it from size heuristics.
type Bounds struct {
	// Kind names the shape of the cap, e.g. "list", "window", "graph", "bytes".
	Kind string `json:"kind"`
	// Returned is the number of items/bytes actually returned.
	Returned int `json:"returned"`
	// Total is the number of items/bytes available before capping, when known.
	// Zero means the total was not computed (e.g. a streaming source).
	Total int `json:"total,omitempty"`
	// Truncated reports whether the result was cut short of Total.
	Truncated bool `json:"truncated"`
}

// TruncationMarker renders a short, deterministic human-readable note
// describing a bounded result, suitable for appending to a tool's textual
// output so the LLM can see that the result was capped.
func (b Bounds) TruncationMarker() string {
	if !b.Truncated {
		return ""
	}
	if b.Total > 0 {
		return fmt.Sprintf("[truncated: showing %d of %d %s]", b.Returned, b.Total, b.Kind)
	}
	return fmt.Sprintf("[truncated: showing %d %s]", b.Returned, b.Kind)
}
