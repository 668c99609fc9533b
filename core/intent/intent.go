// Package intent implements the Intent Router from spec §4.5: a small
// classifier pipeline that assigns one user turn to {chat, workflow,
// hybrid} with a confidence score, for the Hybrid Orchestrator (core/
// orchestrator) to act on.
package intent

import (
	"context"
	"fmt"
	"strings"
)

// Mode is one of the Intent Router's three routable classes.
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeWorkflow Mode = "workflow"
	ModeHybrid   Mode = "hybrid"
)

// RoutingThreshold is the confidence floor below which a Result's Mode is
// replaced by the session's prior dominant class (§4.5 step 4).
const RoutingThreshold = 0.7

// ruleConfidence is assigned to an exhaustive keyword-set match (§4.5
// step 1).
const ruleConfidence = 0.95

// modePriority fixes the order rule-based keyword sets are checked in, so
// a turn whose text matches more than one set resolves deterministically.
var modePriority = []Mode{ModeWorkflow, ModeHybrid, ModeChat}

// Result is the Intent Router's classification of one user turn.
type Result struct {
	Mode                Mode
	Confidence          float64
	Reason              string
	CapabilitiesMatched []string
	Complexity          float64
}

// KeywordSet maps each routable mode to the phrases that identify it
// outright (§4.5 step 1). Matching is case-insensitive substring search;
// sets are expected to be exhaustive for the deployment's domain, not
// exhaustive in any absolute sense.
type KeywordSet map[Mode][]string

// DefaultKeywordSets is the Router's built-in rule-based pass.
func DefaultKeywordSets() KeywordSet {
	return KeywordSet{
		ModeWorkflow: {
			"run the workflow", "execute the plan", "start the pipeline",
			"schedule the job", "kick off the build", "run all the steps",
			"automate this", "batch process", "run this nightly",
		},
		ModeChat: {
			"what do you think", "can you explain", "just curious",
			"quick question", "tell me about", "what is",
			"how does this work",
		},
	}
}

// Capability is one workflow-exclusive signal the capability detector
// looks for (§4.5 step 2): multi-agent delegation, planning/step
// sequencing, or durable persistence across turns.
type Capability struct {
	Name     string
	Keywords []string
}

// DefaultCapabilities is the Router's built-in capability detector.
func DefaultCapabilities() []Capability {
	return []Capability{
		{Name: "multi_agent", Keywords: []string{
			"delegate to", "subagent", "sub-agent", "hand this off to another agent", "spawn an agent",
		}},
		{Name: "planning", Keywords: []string{
			"step 1", "step one", "first step", "plan this out", "break this into steps", "multi-step",
		}},
		{Name: "persistence", Keywords: []string{
			"checkpoint", "save my progress", "resume this later", "across sessions", "persist the state",
		}},
	}
}

// NeuralClassifier is the pluggable fallback used when neither the
// rule-based pass nor the capability detector fires (§4.5 step 3).
type NeuralClassifier interface {
	Classify(ctx context.Context, turnText string) (Result, error)
}

// Router classifies one user turn per spec §4.5's ordered pipeline: a
// rule-based keyword pass, a capability detector, a neural fallback, and
// finally a confidence floor against the session's prior dominant class.
type Router struct {
	keywords     KeywordSet
	capabilities []Capability
	neural       NeuralClassifier
}

// NewRouter builds a Router. A nil keywords/capabilities argument falls
// back to the package defaults; a nil neural disables step 3, so an
// ambiguous turn falls straight to the confidence floor.
func NewRouter(keywords KeywordSet, capabilities []Capability, neural NeuralClassifier) *Router {
	if keywords == nil {
		keywords = DefaultKeywordSets()
	}
	if capabilities == nil {
		capabilities = DefaultCapabilities()
	}
	return &Router{keywords: keywords, capabilities: capabilities, neural: neural}
}

// Classify runs the full pipeline and applies the confidence floor.
// priorDominant is the session's last confidently-routed mode, or "" on a
// session's first turn (floored to ModeChat per §4.5 step 4).
func (r *Router) Classify(ctx context.Context, turnText string, priorDominant Mode) (Result, error) {
	if res, ok := r.classifyByKeywords(turnText); ok {
		return r.applyFloor(res, priorDominant), nil
	}
	if res, ok := r.classifyByCapabilities(turnText); ok {
		return r.applyFloor(res, priorDominant), nil
	}
	if r.neural != nil {
		res, err := r.neural.Classify(ctx, turnText)
		if err != nil {
			return Result{}, fmt.Errorf("intent: neural fallback: %w", err)
		}
		return r.applyFloor(res, priorDominant), nil
	}
	fallback := Result{
		Mode:       ModeChat,
		Reason:     "no rule, capability, or neural classifier fired",
		Complexity: estimateComplexity(turnText, nil),
	}
	return r.applyFloor(fallback, priorDominant), nil
}

func (r *Router) classifyByKeywords(turnText string) (Result, bool) {
	lower := strings.ToLower(turnText)
	for _, mode := range modePriority {
		for _, phrase := range r.keywords[mode] {
			if strings.Contains(lower, phrase) {
				return Result{
					Mode:       mode,
					Confidence: ruleConfidence,
					Reason:     fmt.Sprintf("matched rule-based keyword %q for mode %s", phrase, mode),
					Complexity: estimateComplexity(turnText, nil),
				}, true
			}
		}
	}
	return Result{}, false
}

func (r *Router) classifyByCapabilities(turnText string) (Result, bool) {
	matched := r.DetectCapabilities(turnText)
	if len(matched) == 0 {
		return Result{}, false
	}
	confidence := 0.6 + 0.1*float64(len(matched))
	if confidence > 0.95 {
		confidence = 0.95
	}
	return Result{
		Mode:                ModeWorkflow,
		Confidence:          confidence,
		Reason:              fmt.Sprintf("capability detector matched %d workflow-exclusive capabilities", len(matched)),
		CapabilitiesMatched: matched,
		Complexity:          estimateComplexity(turnText, matched),
	}, true
}

// DetectCapabilities reports which workflow-exclusive capabilities (§4.5
// step 2) appear in text, by name. Exported so the Hybrid Orchestrator can
// reapply the same detector mid-turn to an assistant response, to decide
// whether a `hybrid`-routed turn should promote to the workflow path
// (DESIGN.md's resolution of the hybrid-mode open question).
func (r *Router) DetectCapabilities(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, cap := range r.capabilities {
		for _, phrase := range cap.Keywords {
			if strings.Contains(lower, phrase) {
				matched = append(matched, cap.Name)
				break
			}
		}
	}
	return matched
}

// applyFloor implements §4.5 step 4: below RoutingThreshold, the class
// defaults to priorDominant (or chat on a session's first turn). The
// computed confidence and reason are preserved so callers (the Hybrid
// Orchestrator) can still decide to emit custom:mode_detected.
func (r *Router) applyFloor(res Result, priorDominant Mode) Result {
	if res.Confidence >= RoutingThreshold {
		return res
	}
	def := priorDominant
	if def == "" {
		def = ModeChat
	}
	res.Mode = def
	if res.Reason != "" {
		res.Reason += fmt.Sprintf("; confidence below %.2f floor, defaulted to prior dominant mode %s", RoutingThreshold, def)
	} else {
		res.Reason = fmt.Sprintf("confidence below %.2f floor, defaulted to prior dominant mode %s", RoutingThreshold, def)
	}
	return res
}

// estimateComplexity is a cheap heuristic in [0, 1]: longer turns and
// turns that exercise more workflow-exclusive capabilities are scored as
// more complex. The spec leaves the exact formula unspecified (§4.5);
// this is the Router's own choice, not a wire contract.
func estimateComplexity(turnText string, capabilitiesMatched []string) float64 {
	words := len(strings.Fields(turnText))
	score := float64(words) / 120.0
	score += 0.15 * float64(len(capabilitiesMatched))
	if score > 1 {
		score = 1
	}
	return score
}
