// Package transport implements the Stream Transport: it maps one run's
// Event Bus onto a client-facing frame stream, injects heartbeat frames
// while the run is silent, and supports resuming a dropped connection
// from the client's last-seen sequence number (spec.md §4.1, §6.1).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/core/stream"
)

// Sink delivers framed events to one client connection. Implementations
// must be safe to call from the single goroutine the Transport drives
// them from; Transport never calls Send concurrently with itself.
// Grounded on the teacher's runtime/agents/stream.Sink (Send/Close), with
// Send narrowed to take the already-framed bytes this package produces.
type Sink interface {
	// Send delivers one framed event. An error stops the transport's run
	// loop for this connection (§4.1: streaming failures surface
	// immediately rather than silently dropping events).
	Send(ctx context.Context, frame []byte) error
	// Close releases the sink's resources. Idempotent.
	Close(ctx context.Context) error
}

// DefaultHeartbeatInterval is used when Config.HeartbeatInterval is zero
// (spec.md §6.1: "heartbeat_interval ... default 10").
const DefaultHeartbeatInterval = 10 * time.Second

// Config configures one Transport run.
type Config struct {
	// HeartbeatInterval is how often a custom:heartbeat frame is injected
	// while the bus has produced no event in that interval. Zero uses
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// ResumeFromSeq replays only events with Seq > ResumeFromSeq from the
	// bus's history, instead of the full backlog (§6.1: "the client may
	// acknowledge its last seen sequence to enable resume").
	ResumeFromSeq uint64
	// BufferSize is the subscription's bounded channel size; zero defers
	// to stream.Bus's own default.
	BufferSize int
}

// Frame is the wire shape of one event: the envelope fields plus a type
// tag, matching spec.md §6.1 ("each frame is a UTF-8 JSON object with a
// type field and the fields defined in §4.1").
type Frame struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Transport drains one run's Bus into a Sink, one connection at a time.
type Transport struct {
	bus    *stream.Bus
	sink   Sink
	config Config

	mu          sync.Mutex
	heartbeats  int
	lastEventAt time.Time
	lastSeq     uint64
}

// New builds a Transport for bus, delivering frames to sink per cfg.
func New(bus *stream.Bus, sink Sink, cfg Config) *Transport {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Transport{bus: bus, sink: sink, config: cfg}
}

// Run drains bus into the Sink until the bus closes, ctx is cancelled, or
// Send returns an error. It blocks until one of those happens.
func (t *Transport) Run(ctx context.Context) error {
	sub := t.bus.Subscribe(t.config.BufferSize)
	defer sub.Unsubscribe()

	t.mu.Lock()
	t.lastEventAt = time.Now()
	t.mu.Unlock()

	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Seq <= t.config.ResumeFromSeq {
				continue
			}
			if err := t.send(ctx, evt); err != nil {
				return fmt.Errorf("transport: sending frame seq=%d: %w", evt.Seq, err)
			}
			t.mu.Lock()
			t.lastEventAt = time.Now()
			t.lastSeq = evt.Seq
			t.mu.Unlock()

		case <-ticker.C:
			t.mu.Lock()
			silentFor := time.Since(t.lastEventAt)
			t.mu.Unlock()
			if silentFor < t.config.HeartbeatInterval {
				continue
			}
			if err := t.sendHeartbeat(ctx); err != nil {
				return fmt.Errorf("transport: sending heartbeat: %w", err)
			}
		}
	}
}

func (t *Transport) send(ctx context.Context, evt stream.Event) error {
	frame := Frame{
		Type:      string(evt.Type),
		RunID:     evt.RunID,
		SessionID: evt.SessionID,
		Seq:       evt.Seq,
		Timestamp: evt.Timestamp,
		Data:      evt.Data,
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	return t.sink.Send(ctx, raw)
}

// sendHeartbeat injects a keep-alive frame that reuses the sequence number
// of the last real event forwarded to this connection (or 0 before any
// event has been seen). Heartbeats never advance the run's event sequence
// themselves — they are a per-connection keep-alive, not a bus event — so
// they are excluded from the "strictly increasing seq" contract that
// applies to events actually produced by the run.
func (t *Transport) sendHeartbeat(ctx context.Context) error {
	t.mu.Lock()
	t.heartbeats++
	count := t.heartbeats
	elapsed := time.Since(t.lastEventAt).Seconds()
	seq := t.lastSeq
	t.lastEventAt = time.Now()
	t.mu.Unlock()

	evt := stream.Custom(stream.CustomHeartbeat, stream.HeartbeatData{
		Count:          count,
		ElapsedSeconds: elapsed,
		Status:         "active",
	})
	evt.RunID = t.bus.RunID()
	evt.SessionID = t.bus.SessionID()
	evt.Seq = seq
	evt.Timestamp = time.Now().UTC()
	return t.send(ctx, evt)
}

// Close tears down the Sink.
func (t *Transport) Close(ctx context.Context) error {
	return t.sink.Close(ctx)
}
