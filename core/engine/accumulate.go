package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/agentflow/orchestrator/core/idgen"
	"github.com/agentflow/orchestrator/core/model"
	"github.com/agentflow/orchestrator/core/stream"
)

// resolvedToolCall is one tool_use block fully assembled from a streamed
// model response, in the order the model emitted it.
type resolvedToolCall struct {
	id   string
	name string
	args json.RawMessage
}

// turnResult is the accumulated outcome of one LLM call: its full text (if
// any) and the ordered tool_use blocks it requested.
type turnResult struct {
	text      string
	toolCalls []resolvedToolCall
	usage     model.TokenUsage
}

// runOneTurn issues req against the model, retrying transport failures with
// exponential backoff up to l.retry.MaxAttempts (§4.3: "retried with
// exponential backoff up to a bounded budget; exhaustion is fatal").
func (l *Loop) runOneTurn(ctx context.Context, bus *stream.Bus, req model.Request) (turnResult, error) {
	var lastErr error
	for attempt := 0; attempt < l.retry.MaxAttempts; attempt++ {
		result, err := l.attemptTurn(ctx, bus, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == l.retry.MaxAttempts-1 {
			break
		}
		delay := l.backoffDelay(attempt)
		l.logger.Warn(ctx, "llm transport call failed, retrying", "attempt", attempt+1, "delay", delay.String(), "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return turnResult{}, ctx.Err()
		}
	}
	return turnResult{}, fmt.Errorf("llm transport exhausted %d attempts: %w", l.retry.MaxAttempts, lastErr)
}

// backoffDelay computes the exponential backoff delay for a given attempt
// number (0-indexed), bounded by MaxDelay and widened by a random jitter in
// [JitterMin, JitterMax].
func (l *Loop) backoffDelay(attempt int) time.Duration {
	delay := l.retry.BaseDelay << attempt
	if delay > l.retry.MaxDelay || delay <= 0 {
		delay = l.retry.MaxDelay
	}
	jitterRange := l.retry.JitterMax - l.retry.JitterMin
	jitter := l.retry.JitterMin
	if jitterRange > 0 {
		jitter += time.Duration(rand.Int63n(int64(jitterRange)))
	}
	return delay + jitter
}

// attemptTurn issues a single (non-retried) streamed model call and
// accumulates its events onto bus, following the ordering guarantees in
// §4.3: exactly one text_message_end per text_message_start, and no
// tool_call_* events between a text message's start and its end.
func (l *Loop) attemptTurn(ctx context.Context, bus *stream.Bus, req model.Request) (turnResult, error) {
	ch, err := l.model.StreamChat(ctx, req)
	if err != nil {
		return turnResult{}, err
	}

	var (
		textBuf      strings.Builder
		currentMsgID string
		toolCalls    []resolvedToolCall
		toolIndex    = make(map[string]int)
		toolArgsBuf  = make(map[string]*strings.Builder)
		usage        model.TokenUsage
	)

	closeTextMessage := func() {
		if currentMsgID == "" {
			return
		}
		bus.Publish(stream.Event{Type: stream.EventTextMessageEnd, Data: stream.TextMessageEndData{MessageID: currentMsgID}})
		currentMsgID = ""
	}

	for ev := range ch {
		switch ev.Kind {
		case model.EventTextDelta:
			if currentMsgID == "" {
				currentMsgID = idgen.Message()
				bus.Publish(stream.Event{Type: stream.EventTextMessageStart, Data: stream.TextMessageStartData{MessageID: currentMsgID}})
			}
			textBuf.WriteString(ev.TextDelta)
			bus.Publish(stream.Event{Type: stream.EventTextMessageContent, Data: stream.TextMessageContentData{MessageID: currentMsgID, Delta: ev.TextDelta, Thinking: ev.Thinking}})

		case model.EventToolUseStart:
			closeTextMessage()
			tc := resolvedToolCall{id: ev.ToolUse.ToolCallID, name: ev.ToolUse.ToolName}
			toolIndex[tc.id] = len(toolCalls)
			toolCalls = append(toolCalls, tc)
			buf := &strings.Builder{}
			if len(ev.ToolUse.Args) > 0 {
				buf.Write(ev.ToolUse.Args)
			}
			toolArgsBuf[tc.id] = buf
			bus.Publish(stream.Event{Type: stream.EventToolCallStart, Data: stream.ToolCallStartData{ToolCallID: tc.id, ToolName: tc.name}})

		case model.EventToolArgsDelta:
			if buf, ok := toolArgsBuf[ev.ToolCallID]; ok {
				buf.WriteString(ev.ToolArgsDelta)
			}
			bus.Publish(stream.Event{Type: stream.EventToolCallArgs, Data: stream.ToolCallArgsData{ToolCallID: ev.ToolCallID, Delta: ev.ToolArgsDelta}})

		case model.EventToolUseEnd:
			if idx, ok := toolIndex[ev.ToolCallID]; ok {
				raw := toolArgsBuf[ev.ToolCallID].String()
				if raw == "" {
					raw = "{}"
				}
				toolCalls[idx].args = json.RawMessage(raw)
			}

		case model.EventUsage:
			usage = ev.Usage

		case model.EventError:
			closeTextMessage()
			return turnResult{}, ev.Err

		case model.EventEnd:
			// terminal marker; loop exits when the channel closes.
		}
	}
	closeTextMessage()

	return turnResult{text: textBuf.String(), toolCalls: toolCalls, usage: usage}, nil
}
