package graph

import "time"

// ActionStatus is the outcome of a recorded tool invocation.
type ActionStatus string

// Action outcomes.
const (
	ActionSuccess ActionStatus = "success"
	ActionError   ActionStatus = "error"
)

// ActionNode records something that happened: one tool invocation and its
// outcome. Actions are append-only and capped to a bounded recent window;
// they are never consulted for identity decisions.
//
// FocusEntity is a non-owning lookup key (an entity id), never a pointer,
// so entity eviction can neither be blocked by nor invalidate action
// history.
type ActionNode struct {
	ID               string         `json:"id"`
	ToolName         string         `json:"tool_name"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	ResultSummary    string         `json:"result_summary,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	FocusEntity      string         `json:"focus_entity,omitempty"`
	EntitiesInvolved []string       `json:"entities_involved,omitempty"`
	Status           ActionStatus   `json:"status"`
}

// Succeeded reports whether the action completed without error.
func (a *ActionNode) Succeeded() bool { return a.Status == ActionSuccess }

func (a *ActionNode) clone() ActionNode {
	cp := *a
	if a.Arguments != nil {
		cp.Arguments = make(map[string]any, len(a.Arguments))
		for k, v := range a.Arguments {
			cp.Arguments[k] = v
		}
	}
	cp.EntitiesInvolved = append([]string(nil), a.EntitiesInvolved...)
	return cp
}
