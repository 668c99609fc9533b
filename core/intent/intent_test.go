package intent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/intent"
)

func TestRouterRuleBasedKeywordMatch(t *testing.T) {
	r := intent.NewRouter(nil, nil, nil)

	res, err := r.Classify(context.Background(), "please run the workflow for me tonight", "")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeWorkflow, res.Mode)
	assert.Equal(t, 0.95, res.Confidence)
	assert.Contains(t, res.Reason, "rule-based keyword")
}

func TestRouterCapabilityDetectorPinsWorkflow(t *testing.T) {
	r := intent.NewRouter(nil, nil, nil)

	res, err := r.Classify(context.Background(), "delegate to a subagent and save my progress as a checkpoint", "")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeWorkflow, res.Mode)
	assert.ElementsMatch(t, []string{"multi_agent", "persistence"}, res.CapabilitiesMatched)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9) // 0.6 + 0.1*2
}

func TestRouterCapabilityConfidenceCapped(t *testing.T) {
	r := intent.NewRouter(nil, nil, nil)

	res, err := r.Classify(context.Background(), "delegate to a subagent, plan this out step one, save my progress as a checkpoint across sessions", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Confidence, 0.95)
}

func TestRouterFallsBackToNeuralClassifier(t *testing.T) {
	neural := &fakeNeural{result: intent.Result{Mode: intent.ModeHybrid, Confidence: 0.9, Reason: "model says so"}}
	r := intent.NewRouter(intent.KeywordSet{}, nil, neural)

	res, err := r.Classify(context.Background(), "something ambiguous with no rule hits", "")
	require.NoError(t, err)
	assert.Equal(t, 1, neural.calls)
	assert.Equal(t, intent.ModeHybrid, res.Mode)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestRouterLowConfidenceDefaultsToPriorDominant(t *testing.T) {
	neural := &fakeNeural{result: intent.Result{Mode: intent.ModeWorkflow, Confidence: 0.4}}
	r := intent.NewRouter(intent.KeywordSet{}, nil, neural)

	res, err := r.Classify(context.Background(), "ambiguous message", intent.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, intent.ModeChat, res.Mode)
	assert.Contains(t, res.Reason, "confidence below")
}

func TestRouterLowConfidenceDefaultsToChatOnFirstTurn(t *testing.T) {
	neural := &fakeNeural{result: intent.Result{Mode: intent.ModeWorkflow, Confidence: 0.2}}
	r := intent.NewRouter(intent.KeywordSet{}, nil, neural)

	res, err := r.Classify(context.Background(), "ambiguous message", "")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeChat, res.Mode)
}

func TestRouterNoNeuralConfiguredDefaultsToChat(t *testing.T) {
	r := intent.NewRouter(intent.KeywordSet{}, []intent.Capability{}, nil)

	res, err := r.Classify(context.Background(), "ambiguous message with no classifier available", "")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeChat, res.Mode)
	assert.Contains(t, res.Reason, "no rule, capability, or neural classifier fired")
}

func TestRouterPropagatesNeuralError(t *testing.T) {
	neural := &fakeNeural{err: assert.AnError}
	r := intent.NewRouter(intent.KeywordSet{}, nil, neural)

	_, err := r.Classify(context.Background(), "ambiguous", "")
	assert.Error(t, err)
}

type fakeNeural struct {
	result intent.Result
	err    error
	calls  int
}

func (f *fakeNeural) Classify(_ context.Context, _ string) (intent.Result, error) {
	f.calls++
	if f.err != nil {
		return intent.Result{}, f.err
	}
	return f.result, nil
}
