// Package router classifies an incoming request into an execution mode.
// Cheap deterministic pattern rules run first; only ambiguous queries spend
// a gateway call.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
)

// Mode is the execution path a request takes through the pipeline.
type Mode string

// Execution modes.
const (
	// ModeChat answers from conversation alone, no tools.
	ModeChat Mode = "CHAT"
	// ModeOneShot executes a single obvious tool call, skipping the planner.
	ModeOneShot Mode = "ONE_SHOT"
	// ModeIterative runs the full plan/execute/observe loop.
	ModeIterative Mode = "ITERATIVE"
)

// Route is the classification outcome.
type Route struct {
	Mode Mode
	// ToolHint names the likely tool for ONE_SHOT routes; empty otherwise.
	ToolHint string
}

// NeedsTools reports whether the route requires tool execution.
func (r Route) NeedsTools() bool { return r.Mode != ModeChat }

const classifierPrompt = `You are a query classifier for a personal AI assistant.

Classify the user's query into ONE of these categories:

DIRECT - Single, obvious tool action that can be executed immediately.
Examples: "check email", "what's the weather", "play music", "set timer 5 min"

PLAN - Requires multiple steps, research, or complex reasoning.
Examples: "who is X and what are they known for", "compare A and B", "research topic"

CHAT - Pure conversation, no tools needed.
Examples: "hi", "thanks", "tell me a joke", "explain quantum physics"

Return JSON only:
{"classification": "DIRECT|PLAN|CHAT", "tool_hint": "tool_name or null"}`

// Router classifies queries. It reads the graph only through snapshots.
type Router struct {
	gw     *gateway.Gateway
	logger logging.Logger
}

// New constructs a router over the given gateway.
func New(gw *gateway.Gateway, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Router{gw: gw, logger: logger}
}

// Classify determines the execution mode for a query. Order matters:
// complexity heuristics run before the action-verb bypass so multi-step
// requests are never under-classified as ONE_SHOT; greetings short-circuit
// to CHAT; everything else falls through to one gateway call, and any
// gateway failure degrades to CHAT rather than an error.
func (r *Router) Classify(ctx context.Context, query string, snap *graph.Snapshot) Route {
	text := strings.ToLower(strings.TrimSpace(query))
	if text == "" {
		return Route{Mode: ModeChat}
	}

	if isGreeting(text) {
		r.logger.Debug("router.rule", "mode", string(ModeChat), "rule", "greeting")
		return Route{Mode: ModeChat}
	}
	if isComplex(text) {
		r.logger.Debug("router.rule", "mode", string(ModeIterative), "rule", "complexity")
		return Route{Mode: ModeIterative}
	}
	if isActionCommand(text) {
		hint := guessToolHint(text)
		r.logger.Debug("router.rule", "mode", string(ModeOneShot), "rule", "action_verb", "hint", hint)
		return Route{Mode: ModeOneShot, ToolHint: hint}
	}

	route, err := r.classifyViaModel(ctx, query, snap)
	if err != nil {
		r.logger.Warn("router.model.failed", "error", err.Error())
		return Route{Mode: ModeChat}
	}
	return route
}

func (r *Router) classifyViaModel(ctx context.Context, query string, snap *graph.Snapshot) (Route, error) {
	var contextBlock string
	if snap != nil {
		contextBlock = snap.PlannerContext(query, 500)
	}
	req := gateway.Request{
		Instructions: classifierPrompt,
		Messages: []gateway.Message{
			{Role: "user", Content: "Context: " + contextBlock + "\n\nQuery: " + query},
		},
	}
	text, err := r.gw.Invoke(ctx, gateway.RoleRouter, req)
	if err != nil {
		return Route{}, err
	}
	return parseClassification(text), nil
}

// parseClassification tolerates markdown fences and degrades unparseable
// output to CHAT.
func parseClassification(text string) Route {
	clean := util.StripMarkdownFences(text)

	var payload struct {
		Classification string `json:"classification"`
		ToolHint       string `json:"tool_hint"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "complex") {
			return Route{Mode: ModeIterative}
		}
		return Route{Mode: ModeChat}
	}

	switch strings.ToUpper(payload.Classification) {
	case "DIRECT":
		return Route{Mode: ModeOneShot, ToolHint: payload.ToolHint}
	case "PLAN":
		return Route{Mode: ModeIterative}
	default:
		return Route{Mode: ModeChat}
	}
}
