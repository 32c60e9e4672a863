// Package planner turns a user request plus accumulated tool history into
// the next batch of typed plan steps. Deterministic forced plans bypass the
// model entirely for high-confidence command shapes; everything else is one
// gateway call parsed into steps.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/tool"
)

// Step is one proposed tool call. Terminal marks a step that, when it
// succeeds, ends the loop immediately regardless of remaining iterations.
type Step struct {
	ID       int            `json:"id"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args,omitempty"`
	Terminal bool           `json:"terminal,omitempty"`
}

// Plan is an ordered batch of steps for one iteration. An empty plan means
// the goal is complete.
type Plan []Step

// HistoryEntry is one prior tool call and its (governed) result, fed back to
// the planner on subsequent iterations.
type HistoryEntry struct {
	Tool   string
	Args   map[string]any
	Result string
	OK     bool
}

// Request carries everything one planning call needs.
type Request struct {
	Query     string
	Snapshot  *graph.Snapshot
	History   []HistoryEntry
	Hindsight string // verifier failure reason on the retry path
	ToolHint  string
}

// Planner proposes plans. Safe for concurrent use.
type Planner struct {
	gw       *gateway.Gateway
	registry *tool.Registry
	cfg      *config.LoopConfig
	logger   logging.Logger
}

// New constructs a planner.
func New(gw *gateway.Gateway, registry *tool.Registry, cfg *config.LoopConfig, logger logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Planner{gw: gw, registry: registry, cfg: cfg, logger: logger}
}

const plannerPrompt = `You are the planning stage of a personal assistant. Given the user's
request and context, propose the next tool calls as JSON.

Available tools:
%s
Rules:
- Propose only tools from the list above.
- Return an empty array when the goal is already complete.
- Mark a step "terminal": true when its success fully satisfies the request.
- At most %d steps.

Return JSON only:
{"steps": [{"tool": "tool_name", "args": {}, "terminal": false}]}`

// Propose returns the next plan. On the first iteration (no history, no
// hindsight) a deterministic forced plan is tried before spending a model
// call. Model output is validated against graph invariants; a vetoed plan
// comes back empty with the veto folded into the error.
func (p *Planner) Propose(ctx context.Context, req Request) (Plan, error) {
	if len(req.History) == 0 && req.Hindsight == "" {
		if plan, ok := ForcedPlan(req.Query); ok {
			p.logger.Info("planner.forced", "tool", plan[0].Tool)
			return p.vet(plan, req.Snapshot)
		}
	}

	messages := p.buildMessages(req)
	instructions := fmt.Sprintf(plannerPrompt, p.registry.Descriptions(), p.cfg.MaxStepsPerPlan)

	text, err := p.gw.Invoke(ctx, gateway.RolePlanner, gateway.Request{
		Instructions: instructions,
		Messages:     messages,
	})
	if err != nil {
		return nil, fmt.Errorf("planner call: %w", err)
	}

	plan, err := p.parsePlan(text)
	if err != nil {
		p.logger.Warn("planner.parse.failed", "error", err.Error())
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return p.vet(plan, req.Snapshot)
}

// buildMessages assembles the conversation: resolved-reference and context
// blocks, hindsight on retries, then the bounded recent tool history with a
// goal reminder so the model never loses the original request.
func (p *Planner) buildMessages(req Request) []gateway.Message {
	var sb strings.Builder

	if req.Snapshot != nil {
		res := req.Snapshot.Resolve(req.Query)
		if top, ok := res.Top(); ok && top.Confidence > 0.5 {
			sb.WriteString("[RESOLVED REFERENCE]\n")
			switch top.Kind {
			case graph.HypothesisEntity:
				fmt.Fprintf(&sb, "User is referring to: %s (%s)\n", top.Entity.Name, top.Entity.Type)
			case graph.HypothesisAction:
				fmt.Fprintf(&sb, "User is referring to last action: %s with args %v\n", top.Action.ToolName, top.Action.Arguments)
			}
			switch top.Intent {
			case graph.IntentRepeat:
				sb.WriteString("ACTION: User wants to REPEAT this action.\n")
			case graph.IntentModify:
				sb.WriteString("ACTION: User wants to do the SAME THING with a DIFFERENT tool.\n")
			}
		}
		sb.WriteString("[GRAPH CONTEXT]\n")
		sb.WriteString(req.Snapshot.PlannerContext(req.Query, 500))
		sb.WriteString("\n")
	}
	if req.ToolHint != "" {
		fmt.Fprintf(&sb, "[HINT] Likely tool: %s\n", req.ToolHint)
	}
	if req.Hindsight != "" {
		fmt.Fprintf(&sb, "[HINDSIGHT] The previous attempt failed verification: %s\nAdjust the plan accordingly.\n", req.Hindsight)
	}
	fmt.Fprintf(&sb, "\nRequest: %s", req.Query)

	messages := []gateway.Message{{Role: "user", Content: sb.String()}}

	history := req.History
	if k := p.cfg.HistoryWindow; k > 0 && len(history) > k {
		history = history[len(history)-k:]
	}
	if len(history) > 0 {
		var hb strings.Builder
		hb.WriteString("[TOOL HISTORY]\n")
		for _, h := range history {
			status := "ok"
			if !h.OK {
				status = "error"
			}
			fmt.Fprintf(&hb, "- %s(%v) [%s]: %s\n", h.Tool, h.Args, status, h.Result)
		}
		fmt.Fprintf(&hb, "\n[GOAL REMINDER]\nOriginal User Request: %q\nBased on the tool results above, what is your next step to complete this goal? If the goal is complete, return an empty steps array.", req.Query)
		messages = append(messages, gateway.Message{Role: "user", Content: hb.String()})
	}
	return messages
}

// parsePlan decodes model output into steps, dropping duplicate terminal
// steps, stopping after the first terminal step and capping the total.
func (p *Planner) parsePlan(text string) (Plan, error) {
	clean := util.StripMarkdownFences(text)

	var payload struct {
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		// Some models return a bare array.
		if arrErr := json.Unmarshal([]byte(clean), &payload.Steps); arrErr != nil {
			return nil, err
		}
	}

	var plan Plan
	seenTerminal := map[string]bool{}
	for _, s := range payload.Steps {
		if s.Tool == "" {
			continue
		}
		if s.Terminal && seenTerminal[s.Tool] {
			p.logger.Warn("planner.duplicate_terminal", "tool", s.Tool)
			continue
		}
		s.ID = len(plan) + 1
		plan = append(plan, s)
		if s.Terminal {
			seenTerminal[s.Tool] = true
			break // one action per plan once a terminal step is reached
		}
		if len(plan) >= p.cfg.MaxStepsPerPlan {
			break
		}
	}
	return plan, nil
}

// vet applies graph-level invariants to a proposed plan.
func (p *Planner) vet(plan Plan, snap *graph.Snapshot) (Plan, error) {
	if snap == nil || len(plan) == 0 {
		return plan, nil
	}
	calls := make([]graph.PlannedCall, len(plan))
	for i, s := range plan {
		calls[i] = graph.PlannedCall{Tool: s.Tool, Args: s.Args}
	}
	if ok, reason := snap.ValidateCalls(calls); !ok {
		p.logger.Warn("planner.vetoed", "reason", reason)
		return nil, fmt.Errorf("plan vetoed: %s", reason)
	}
	return plan, nil
}
