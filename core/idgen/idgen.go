// Package idgen allocates opaque entity identifiers. All entities in the
// data model (§3) carry an opaque string identifier; this package is the
// single place that decides how those strings are generated so call sites
// never hand-roll ID formats.
package idgen

import "github.com/google/uuid"

// New returns a new random (v4) identifier string, prefixed for readability
// in logs and event streams (for example "run_7e4...", "msg_1a2...").
func New(prefix string) string {
	id := uuid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Session allocates a new session identifier.
func Session() string { return New("sess") }

// Message allocates a new message identifier.
func Message() string { return New("msg") }

// ToolCall allocates a new tool-call identifier.
func ToolCall() string { return New("tc") }

// Approval allocates a new approval identifier.
func Approval() string { return New("appr") }

// Checkpoint allocates a new checkpoint identifier.
func Checkpoint() string { return New("ckpt") }

// Run allocates a new run identifier.
func Run() string { return New("run") }
