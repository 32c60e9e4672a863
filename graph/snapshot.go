package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/chande-dhanush/Sakura/internal/util"
)

// Snapshot is an immutable, request-scoped view of the graph. It is taken
// once at loop entry so reference resolution stays stable for the lifetime
// of one request even while the graph mutates for other requests. All
// context builders are pure: reading a snapshot never touches recency
// counters, confidence or lifecycle state.
type Snapshot struct {
	TakenAt  time.Time
	Entities map[string]EntityNode
	Actions  []ActionNode
	Focus    string

	halfLife time.Duration
}

// Snapshot clones the current graph state.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := &Snapshot{
		TakenAt:  g.clock(),
		Entities: make(map[string]EntityNode, len(g.entities)),
		Actions:  make([]ActionNode, 0, len(g.actions)),
		Focus:    g.focus,
		halfLife: g.cfg.HalfLife,
	}
	for id, e := range g.entities {
		s.Entities[id] = *e.clone()
	}
	for i := range g.actions {
		s.Actions = append(s.Actions, g.actions[i].clone())
	}
	return s
}

// Self returns the protected identity entity.
func (s *Snapshot) Self() EntityNode {
	return s.Entities[SelfID]
}

// LastAction returns the most recent action, optionally filtered by tool
// name (empty matches any).
func (s *Snapshot) LastAction(tool string) (ActionNode, bool) {
	for i := len(s.Actions) - 1; i >= 0; i-- {
		if tool == "" || s.Actions[i].ToolName == tool {
			return s.Actions[i], true
		}
	}
	return ActionNode{}, false
}

// RecentActions returns up to n of the most recent actions, oldest first.
func (s *Snapshot) RecentActions(n int) []ActionNode {
	if n <= 0 || len(s.Actions) == 0 {
		return nil
	}
	if n > len(s.Actions) {
		n = len(s.Actions)
	}
	out := make([]ActionNode, n)
	copy(out, s.Actions[len(s.Actions)-n:])
	return out
}

// SuccessfulTools returns the set of tool names with at least one successful
// action in the window. The response guard checks action claims against it.
func (s *Snapshot) SuccessfulTools() map[string]bool {
	out := map[string]bool{}
	for i := range s.Actions {
		if s.Actions[i].Succeeded() {
			out[s.Actions[i].ToolName] = true
		}
	}
	return out
}

// PlannerContext builds the compact context block injected into planner
// prompts: resolved reference, recent action summaries and the identity
// reminder, truncated to budget bytes.
func (s *Snapshot) PlannerContext(query string, budget int) string {
	var parts []string

	res := s.Resolve(query)
	if top, ok := res.Top(); ok && top.Confidence > 0.5 {
		switch top.Kind {
		case HypothesisEntity:
			parts = append(parts, fmt.Sprintf("[RESOLVED] Entity: %s (%s)", top.Entity.Name, top.Entity.Summary))
		case HypothesisAction:
			parts = append(parts, fmt.Sprintf("[RESOLVED] Last action: %s - %s", top.Action.ToolName, top.Action.ResultSummary))
		}
	}

	recent := s.RecentActions(3)
	if len(recent) > 0 {
		summaries := make([]string, 0, len(recent))
		for i := range recent {
			if recent[i].ResultSummary != "" {
				summaries = append(summaries, fmt.Sprintf("%s: %s", recent[i].ToolName, recent[i].ResultSummary))
			}
		}
		if len(summaries) > 0 {
			parts = append(parts, "[RECENT] "+strings.Join(summaries, "; "))
		}
	}

	parts = append(parts, "[USER] "+s.Self().Summary)

	ctx := strings.Join(parts, "\n")
	if budget > 3 && len(ctx) > budget {
		ctx = util.CapBytes(ctx, budget-3) + "..."
	}
	return ctx
}

// ResponderContext builds the context block for final response synthesis:
// identity, communication preferences if present, and the last action.
func (s *Snapshot) ResponderContext() string {
	parts := []string{"[USER IDENTITY]\n" + s.Self().Summary}

	if pref, ok := s.Entities[EntityID(TypePreference, "communication")]; ok {
		parts = append(parts, "[PREFERENCES]\n"+pref.Summary)
	}
	if last, ok := s.LastAction(""); ok && last.ResultSummary != "" {
		parts = append(parts, "[LAST ACTION]\n"+last.ResultSummary)
	}
	return strings.Join(parts, "\n\n")
}

// PlannedCall is the minimal view of a plan step the graph needs to vet.
type PlannedCall struct {
	Tool string
	Args map[string]any
}

// externalSearchTools are the tools that reach outside the assistant.
var externalSearchTools = map[string]bool{
	"web_search": true,
	"wikipedia":  true,
	"search":     true,
}

// ValidateCalls vets planned tool calls against graph invariants before
// execution: external-search steps whose query refers to the user are
// vetoed here, and arguments must not contradict the identity's negative
// claims. Returns ok and a reason usable as planner hindsight.
func (s *Snapshot) ValidateCalls(calls []PlannedCall) (bool, string) {
	self := s.Self()
	for _, c := range calls {
		if externalSearchTools[c.Tool] {
			query, _ := c.Args["query"].(string)
			if isUser, conf := s.isUserReference(strings.ToLower(query)); isUser && conf > 0.5 {
				return false, fmt.Sprintf("query %q is about the user; answer from stored identity, not external search", query)
			}
		}
		argText := strings.ToLower(fmt.Sprintf("%v", c.Args))
		for _, nc := range self.NotClaims {
			if nc != "" && strings.Contains(argText, strings.ToLower(nc)) {
				return false, "plan violates negative identity constraint: " + nc
			}
		}
	}
	return true, ""
}
