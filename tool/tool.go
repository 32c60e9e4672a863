// Package tool defines the opaque capability contract the execution loop
// dispatches against, plus a registry resolved once at startup so runtime
// dispatch is a map lookup, never reflection.
package tool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
)

// Status is the outcome of a tool call as seen by the loop.
type Status string

// Call outcomes.
const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Result is the normalized output of one tool call. Tools are opaque: the
// core never inspects how the output was produced.
type Result struct {
	Output string `json:"output"`
	Status Status `json:"status"`
}

// Tool is the interface a capability must satisfy to be callable from the
// execution loop.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description returns a human-readable description of what this tool
	// does. It is provided to the planner model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with validated arguments.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Registry maps tool names to capabilities. It is populated at startup and
// read-only afterwards, so lookups during execution need no locking.
type Registry struct {
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry constructs a registry over the given tools. Duplicate names
// are an error: silent shadowing of a capability is never what the host meant.
func NewRegistry(logger logging.Logger, tools ...Tool) (*Registry, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: logger}
	for _, t := range tools {
		if t.Name() == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.tools[t.Name()]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Descriptions renders a one-line-per-tool catalog for planner prompts.
func (r *Registry) Descriptions() string {
	var out string
	for _, n := range r.Names() {
		out += fmt.Sprintf("- %s: %s\n", n, r.tools[n].Description())
	}
	return out
}

// Call dispatches by name and normalizes the outcome to a Result. Unknown
// tools and execution failures are both ERROR results so the loop can fold
// them into history instead of aborting.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.tools[name]
	if !ok {
		r.logger.Warn("tool.unknown", "tool", name)
		return Result{Output: fmt.Sprintf("unknown tool: %s", name), Status: StatusError}
	}

	start := time.Now()
	out, err := t.Call(ctx, args)
	if err != nil {
		r.logger.Error("tool.call.error", "tool", name, "duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		return Result{Output: err.Error(), Status: StatusError}
	}
	r.logger.Info("tool.call.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())
	return Result{Output: out, Status: StatusSuccess}
}
