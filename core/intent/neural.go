package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentflow/orchestrator/core/model"
)

// neuralSystemPrompt instructs the fallback model to act as a strict
// classifier and return nothing but the JSON object the Router expects.
const neuralSystemPrompt = `You are an intent classifier for an agentic session orchestrator.
Classify the user's message into exactly one of: "chat", "workflow", "hybrid".
"workflow" means the user wants a multi-step, tool-driven task executed on their behalf.
"chat" means the user wants a conversational answer with no durable task execution.
"hybrid" means the message plausibly starts as conversation but may need task execution.
Respond with a single JSON object and nothing else:
{"mode": "chat|workflow|hybrid", "confidence": <0..1>, "reason": "<short reason>", "complexity": <0..1>}`

// ModelNeuralClassifier adapts a model.Client into the Router's neural
// fallback (§4.5 step 3): a single non-streamed classification prompt,
// parsed back into a Result.
type ModelNeuralClassifier struct {
	client model.Client
}

// NewModelNeuralClassifier wraps client as a NeuralClassifier.
func NewModelNeuralClassifier(client model.Client) *ModelNeuralClassifier {
	return &ModelNeuralClassifier{client: client}
}

// Classify implements NeuralClassifier.
func (n *ModelNeuralClassifier) Classify(ctx context.Context, turnText string) (Result, error) {
	req := model.Request{
		System: neuralSystemPrompt,
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: turnText}}},
		},
		MaxTokens: 256,
	}
	ch, err := n.client.StreamChat(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("intent: neural classifier request: %w", err)
	}

	var text strings.Builder
	for ev := range ch {
		switch ev.Kind {
		case model.EventTextDelta:
			text.WriteString(ev.TextDelta)
		case model.EventError:
			return Result{}, fmt.Errorf("intent: neural classifier stream: %w", ev.Err)
		}
	}

	var parsed struct {
		Mode       string  `json:"mode"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
		Complexity float64 `json:"complexity"`
	}
	raw := strings.TrimSpace(text.String())
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Result{}, fmt.Errorf("intent: parsing neural classifier response %q: %w", raw, err)
	}

	mode := Mode(parsed.Mode)
	switch mode {
	case ModeChat, ModeWorkflow, ModeHybrid:
	default:
		mode = ModeChat
	}
	return Result{
		Mode:       mode,
		Confidence: parsed.Confidence,
		Reason:     parsed.Reason,
		Complexity: parsed.Complexity,
	}, nil
}
