// Package anthropicclient adapts github.com/anthropics/anthropic-sdk-go to
// the model.Client capability interface, following the same MessagesClient
// seam the teacher uses (features/model/anthropic/client.go) so tests can
// substitute a fake without a live API key.
package anthropicclient

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentflow/orchestrator/core/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter so callers can pass either *sdk.MessageService or a fake.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Client implements model.Client on top of Anthropic's Messages API.
	Client struct {
		msg          MessagesClient
		defaultModel string
	}
)

// New builds an Anthropic-backed model.Client. defaultModel is used when a
// request does not pin one explicitly (this adapter always uses it since
// model.Request has no per-call model override yet).
func New(msg MessagesClient, defaultModel string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{msg: msg, defaultModel: defaultModel}, nil
}

// StreamChat implements model.Client.
func (c *Client) StreamChat(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	body, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, body)
	out := make(chan model.StreamEvent, 32)
	go translate(ctx, stream, out)
	return out, nil
}

func (c *Client) buildParams(req model.Request) (sdk.MessageNewParams, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.defaultModel),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		msg, err := toAnthropicMessage(m)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Messages = append(params.Messages, msg)
	}
	for _, t := range req.Tools {
		var schema any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return sdk.MessageNewParams{}, err
			}
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
			},
		})
	}
	return params, nil
}

func toAnthropicMessage(m model.Message) (sdk.MessageParam, error) {
	var role sdk.MessageParamRole
	switch m.Role {
	case model.RoleUser, model.RoleTool:
		role = sdk.MessageParamRoleUser
	case model.RoleAssistant:
		role = sdk.MessageParamRoleAssistant
	default:
		role = sdk.MessageParamRoleUser
	}
	var blocks []sdk.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch part := p.(type) {
		case model.TextPart:
			blocks = append(blocks, sdk.NewTextBlock(part.Text))
		case model.ToolUsePart:
			var input any
			if len(part.Args) > 0 {
				if err := json.Unmarshal(part.Args, &input); err != nil {
					return sdk.MessageParam{}, err
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(part.ToolCallID, input, part.ToolName))
		case model.ToolResultPart:
			blocks = append(blocks, sdk.NewToolResultBlock(part.ToolCallID, part.Content, part.IsError))
		}
	}
	return sdk.MessageParam{Role: role, Content: blocks}, nil
}

// translate pumps Anthropic SSE stream events into model.StreamEvent values
// on out, closing out when the stream ends or errors, following the
// teacher's anthropicStreamer.run loop (features/model/anthropic/stream.go).
func translate(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- model.StreamEvent) {
	defer close(out)
	defer stream.Close()

	toolNames := map[string]string{}
	currentToolID := ""

	for stream.Next() {
		select {
		case <-ctx.Done():
			emit(ctx, out, model.StreamEvent{Kind: model.EventError, Err: ctx.Err()})
			return
		default:
		}

		evt := stream.Current()
		switch evt.Type {
		case "content_block_start":
			if tu := evt.ContentBlock.AsToolUse(); tu.ID != "" {
				toolNames[tu.ID] = tu.Name
				currentToolID = tu.ID
				emit(ctx, out, model.StreamEvent{
					Kind: model.EventToolUseStart,
					ToolUse: &model.ToolUsePart{
						ToolCallID: tu.ID,
						ToolName:   tu.Name,
					},
				})
			}
		case "content_block_delta":
			delta := evt.Delta
			if text := delta.Text; text != "" {
				emit(ctx, out, model.StreamEvent{Kind: model.EventTextDelta, TextDelta: text})
			}
			if delta.Thinking != "" {
				emit(ctx, out, model.StreamEvent{Kind: model.EventTextDelta, TextDelta: delta.Thinking, Thinking: true})
			}
			if partial := delta.PartialJSON; partial != "" {
				emit(ctx, out, model.StreamEvent{Kind: model.EventToolArgsDelta, ToolCallID: currentToolID, ToolArgsDelta: partial})
			}
		case "content_block_stop":
			// Closes the open tool_use block, if any; canonical args are
			// assembled by the engine from the EventToolArgsDelta fragments
			// accumulated under that block's id.
			if currentToolID != "" {
				emit(ctx, out, model.StreamEvent{Kind: model.EventToolUseEnd, ToolCallID: currentToolID})
				currentToolID = ""
			}
		case "message_delta":
			if u := evt.Usage; u.OutputTokens > 0 {
				emit(ctx, out, model.StreamEvent{Kind: model.EventUsage, Usage: model.TokenUsage{
					OutputTokens: int(u.OutputTokens),
				}})
			}
		case "message_stop":
			emit(ctx, out, model.StreamEvent{Kind: model.EventEnd})
			return
		}
	}
	if err := stream.Err(); err != nil {
		emit(ctx, out, model.StreamEvent{Kind: model.EventError, Err: err})
		return
	}
	emit(ctx, out, model.StreamEvent{Kind: model.EventEnd})
}

func emit(ctx context.Context, out chan<- model.StreamEvent, evt model.StreamEvent) {
	select {
	case out <- evt:
	case <-ctx.Done():
	}
}
