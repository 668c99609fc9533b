package stream

import (
	"sync"
	"time"
)

// Sink receives events published on a run's Bus. Implementations must not
// block indefinitely; the bus already applies bounded buffering and will
// drop a slow subscriber rather than stall the run (§4.1).
type Sink interface {
	Publish(evt Event)
	// Closed reports whether the sink has been torn down (overflowed or
	// explicitly unsubscribed) and should no longer receive events.
	Closed() bool
}

// chanSink adapts a buffered channel to Sink, dropping the subscriber after
// a single overflow notification.
type chanSink struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newChanSink(buffer int) *chanSink {
	return &chanSink{ch: make(chan Event, buffer)}
}

func (s *chanSink) Publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
		// Buffer full: per §4.1, drop this subscriber and emit exactly one
		// run_error(kind=stream_overflow) in its place, then stop sending.
		s.closed = true
		overflow := Event{
			Type:      EventRunError,
			RunID:     evt.RunID,
			SessionID: evt.SessionID,
			Seq:       evt.Seq,
			Timestamp: evt.Timestamp,
			Data: RunErrorData{
				Kind:    "stream_overflow",
				Message: "subscriber buffer exceeded capacity; events dropped",
			},
		}
		// Discard the oldest buffered event to make room for the notice;
		// the subscriber is being dropped, so its backlog is incomplete
		// either way.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- overflow:
		default:
			// Even the overflow notice doesn't fit; subscriber is beyond
			// saving. Close so readers observe EOF instead of hanging.
		}
		close(s.ch)
	}
}

func (s *chanSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscription is a live handle to a Bus subscriber's event channel.
type Subscription struct {
	events <-chan Event
	sink   *chanSink
	bus    *Bus
	id     uint64
}

// Events returns the channel of events for this subscription. The channel
// closes when the bus is closed or this subscription overflows.
func (s *Subscription) Events() <-chan Event { return s.events }

// Unsubscribe detaches this subscription from its Bus. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus fans out one run's ordered Event sequence to any number of
// subscribers, assigning each event a monotone per-run sequence number
// before publishing (§4.1). Grounded on the teacher's hooks.Bus fan-out
// mechanics (runtime/agent/hooks/bus.go), adapted from internal lifecycle
// events to the client-facing event vocabulary and given bounded,
// drop-on-overflow subscriber buffers instead of unbounded fan-out.
type Bus struct {
	runID     string
	sessionID string

	mu          sync.Mutex
	seq         uint64
	subscribers map[uint64]*chanSink
	nextSubID   uint64
	closed      bool

	// history retains every published event so late subscribers (and the
	// Stream Transport's resume-from-sequence, §6.1) can replay from seq 0.
	history []Event
}

// NewBus creates a Bus for one run.
func NewBus(runID, sessionID string) *Bus {
	return &Bus{runID: runID, sessionID: sessionID, subscribers: make(map[uint64]*chanSink)}
}

// RunID returns the run identifier this bus was created for.
func (b *Bus) RunID() string { return b.runID }

// SessionID returns the session identifier this bus was created for.
func (b *Bus) SessionID() string { return b.sessionID }

// Subscribe registers a new subscriber with a bounded buffer of the given
// size, replaying prior history before live events.
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	sink := newChanSink(bufferSize)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	backlog := make([]Event, len(b.history))
	copy(backlog, b.history)
	closed := b.closed
	if !closed {
		b.subscribers[id] = sink
	}
	b.mu.Unlock()

	for _, evt := range backlog {
		sink.Publish(evt)
	}
	if closed {
		// The bus is already closed: end the channel after the replay, as
		// Close does for live subscribers.
		sink.mu.Lock()
		if !sink.closed {
			sink.closed = true
			close(sink.ch)
		}
		sink.mu.Unlock()
	}

	return &Subscription{events: sink.ch, sink: sink, bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish assigns the next sequence number and timestamp (if zero) to evt
// and fans it out to all live subscribers. Publish never blocks on a slow
// subscriber: each subscriber has its own bounded buffer and is dropped
// independently on overflow.
func (b *Bus) Publish(evt Event) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return evt
	}
	b.seq++
	evt.RunID = b.runID
	evt.SessionID = b.sessionID
	evt.Seq = b.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.history = append(b.history, evt)
	sinks := make([]*chanSink, 0, len(b.subscribers))
	for id, sink := range b.subscribers {
		if sink.Closed() {
			delete(b.subscribers, id)
			continue
		}
		sinks = append(sinks, sink)
	}
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Publish(evt)
	}
	return evt
}

// Close tears down the bus: every live subscriber channel is closed and no
// further events are accepted. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sink := range b.subscribers {
		sink.mu.Lock()
		if !sink.closed {
			sink.closed = true
			close(sink.ch)
		}
		sink.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Custom is a convenience constructor for an EventCustom event wrapping one
// of the named inner kinds from §4.1.
func Custom(kind CustomKind, data any) Event {
	return Event{Type: EventCustom, Data: CustomData{Kind: kind, Data: data}}
}
