package graph

import "strings"

// HypothesisKind distinguishes what a resolution hypothesis points at.
type HypothesisKind string

// Hypothesis kinds.
const (
	HypothesisEntity HypothesisKind = "entity"
	HypothesisAction HypothesisKind = "action"
)

// Intent annotates a hypothesis with what the user wants done with the
// referent.
type Intent string

// Resolution intents.
const (
	IntentNone   Intent = ""
	IntentRepeat Intent = "repeat"
	IntentModify Intent = "modify_tool"
)

// Hypothesis is one ranked interpretation of a reference.
type Hypothesis struct {
	Kind       HypothesisKind
	Entity     EntityNode
	Action     ActionNode
	Confidence float64
	Intent     Intent
}

// ResolutionResult carries the ranked hypotheses for a reference plus the
// flags downstream stages act on. It is never empty without a Fallback.
type ResolutionResult struct {
	Hypotheses []Hypothesis
	// ExcludeExternalSearch is set when the text refers to the user's own
	// identity; external-search tools must not be planned for it.
	ExcludeExternalSearch bool
	// NeedsClarification is set when nothing resolved confidently.
	NeedsClarification bool
	// Fallback is a user-safe clarification prompt for the unresolved case.
	Fallback string
}

// Top returns the highest-ranked hypothesis.
func (r *ResolutionResult) Top() (Hypothesis, bool) {
	if len(r.Hypotheses) == 0 {
		return Hypothesis{}, false
	}
	return r.Hypotheses[0], true
}

// userRefPhrases are absolute self-reference signals.
var userRefPhrases = []string{
	"who am i", "about me", "about myself", "tell me about me",
	"my name", "my age", "my birthday", "my location",
	"what do you know about me", "describe me",
	"what have you stored about me", "what do you remember about me",
	"what's stored about me", "what info do you have on me",
	"what have you learned about me", "my profile", "my interests",
}

// isUserReference reports whether text refers to the user's own identity
// and with what confidence.
func (s *Snapshot) isUserReference(text string) (bool, float64) {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, p := range userRefPhrases {
		if strings.Contains(text, p) {
			return true, 1.0
		}
	}
	name := strings.ToLower(s.Self().Name)
	if name != "" && strings.Contains(text, name) {
		for _, ctx := range []string{"about", "tell me", "who is", "what about"} {
			if strings.Contains(text, ctx) {
				return true, 0.75
			}
		}
		return false, 0.3
	}
	return false, 0.0
}

// Resolve interprets a reference against the snapshot, ranked highest
// confidence first. Precedence: self-reference, then the focus entity of
// the preceding action, then entities involved in it, then the action
// itself, then repeat/modify intents, then a name lookup over PROMOTED
// entities, then a clarification fallback.
func (s *Snapshot) Resolve(text string) ResolutionResult {
	ref := strings.ToLower(strings.TrimSpace(text))

	// Bare first-person pronouns are absolute.
	if ref == "me" || ref == "myself" || ref == "i" || ref == "my" {
		return ResolutionResult{
			Hypotheses:            []Hypothesis{{Kind: HypothesisEntity, Entity: s.Self(), Confidence: 1.0}},
			ExcludeExternalSearch: true,
		}
	}
	if isUser, conf := s.isUserReference(ref); isUser && conf > 0.7 {
		return ResolutionResult{
			Hypotheses:            []Hypothesis{{Kind: HypothesisEntity, Entity: s.Self(), Confidence: conf}},
			ExcludeExternalSearch: true,
		}
	}

	var hyps []Hypothesis

	// Demonstratives bind to the previous turn: focus entity first, then
	// entities the action involved, then the action itself.
	if containsAnyWord(ref, "this", "that", "it") {
		if last, ok := s.LastAction(""); ok {
			if last.FocusEntity != "" {
				if e, ok := s.Entities[last.FocusEntity]; ok {
					hyps = append(hyps, Hypothesis{Kind: HypothesisEntity, Entity: e, Confidence: 0.9})
				}
			}
			for _, id := range last.EntitiesInvolved {
				if e, ok := s.Entities[id]; ok {
					hyps = append(hyps, Hypothesis{Kind: HypothesisEntity, Entity: e, Confidence: 0.75})
					break
				}
			}
			hyps = append(hyps, Hypothesis{Kind: HypothesisAction, Action: last, Confidence: 0.5})
		}
	}

	if strings.Contains(ref, "again") || strings.Contains(ref, "repeat") {
		if last, ok := s.LastAction(""); ok {
			hyps = append(hyps, Hypothesis{Kind: HypothesisAction, Action: last, Confidence: 0.95, Intent: IntentRepeat})
		}
	}
	if strings.Contains(ref, "instead") {
		if last, ok := s.LastAction(""); ok && len(last.Arguments) > 0 {
			hyps = append(hyps, Hypothesis{Kind: HypothesisAction, Action: last, Confidence: 0.85, Intent: IntentModify})
		}
	}

	// Name lookup over PROMOTED entities only; unpromoted state is too
	// weak to bind a bare name to.
	if e, ok := s.lookupByName(ref); ok {
		hyps = append(hyps, Hypothesis{Kind: HypothesisEntity, Entity: e, Confidence: 0.7})
	}

	if len(hyps) == 0 {
		return ResolutionResult{
			NeedsClarification: true,
			Fallback:           "I'm not sure what you're referring to. Could you clarify?",
		}
	}
	sortHypotheses(hyps)
	return ResolutionResult{Hypotheses: hyps}
}

func (s *Snapshot) lookupByName(name string) (EntityNode, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, e := range s.Entities {
		if e.Lifecycle != LifecyclePromoted || e.ID == SelfID {
			continue
		}
		if strings.ToLower(e.Name) == name {
			return e, true
		}
	}
	return EntityNode{}, false
}

func containsAnyWord(text string, words ...string) bool {
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,!?")
		for _, want := range words {
			if w == want {
				return true
			}
		}
	}
	return false
}

// sortHypotheses orders by confidence, stable for equal scores.
func sortHypotheses(hyps []Hypothesis) {
	for i := 1; i < len(hyps); i++ {
		for j := i; j > 0 && hyps[j].Confidence > hyps[j-1].Confidence; j-- {
			hyps[j], hyps[j-1] = hyps[j-1], hyps[j]
		}
	}
}
