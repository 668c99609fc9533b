package transport_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/stream"
	"github.com/agentflow/orchestrator/core/transport"
)

// fakeSink records every frame sent to it.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeSink) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSink) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func TestTransportForwardsEventsAsFrames(t *testing.T) {
	bus := stream.NewBus("run-1", "sess-1")
	sink := &fakeSink{}
	tr := transport.New(bus, sink, transport.Config{HeartbeatInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	// Give Run time to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(stream.Event{Type: stream.EventTextMessageContent, Data: "hello"})
	bus.Close()

	require.NoError(t, <-done)
	cancel()

	frames := sink.snapshot()
	require.Len(t, frames, 1)

	var f transport.Frame
	require.NoError(t, json.Unmarshal(frames[0], &f))
	assert.Equal(t, "run-1", f.RunID)
	assert.Equal(t, uint64(1), f.Seq)
}

func TestTransportSkipsEventsAtOrBelowResumeSeq(t *testing.T) {
	bus := stream.NewBus("run-1", "sess-1")
	bus.Publish(stream.Event{Type: stream.EventTextMessageContent, Data: "one"})
	bus.Publish(stream.Event{Type: stream.EventTextMessageContent, Data: "two"})

	sink := &fakeSink{}
	tr := transport.New(bus, sink, transport.Config{HeartbeatInterval: time.Hour, ResumeFromSeq: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	bus.Close()
	require.NoError(t, <-done)
	cancel()

	frames := sink.snapshot()
	require.Len(t, frames, 1)
	var f transport.Frame
	require.NoError(t, json.Unmarshal(frames[0], &f))
	assert.Equal(t, uint64(2), f.Seq)
}

func TestTransportEmitsHeartbeatWhenSilent(t *testing.T) {
	bus := stream.NewBus("run-1", "sess-1")
	sink := &fakeSink{}
	tr := transport.New(bus, sink, transport.Config{HeartbeatInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = tr.Run(ctx) }()

	time.Sleep(80 * time.Millisecond)
	cancel()
	bus.Close()

	frames := sink.snapshot()
	require.NotEmpty(t, frames)
	var f transport.Frame
	require.NoError(t, json.Unmarshal(frames[0], &f))
	assert.Equal(t, "custom", f.Type)
}

func TestTransportStopsOnContextCancel(t *testing.T) {
	bus := stream.NewBus("run-1", "sess-1")
	sink := &fakeSink{}
	tr := transport.New(bus, sink, transport.Config{HeartbeatInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("transport did not stop after context cancel")
	}
}

func TestTransportCloseClosesSink(t *testing.T) {
	bus := stream.NewBus("run-1", "sess-1")
	sink := &fakeSink{}
	tr := transport.New(bus, sink, transport.Config{})

	require.NoError(t, tr.Close(context.Background()))
	assert.True(t, sink.closed)
}
