package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/offload"
)

// Governor bounds the size of tool output flowing back into planner context.
// Below TruncateAt results pass verbatim; up to SummarizeAt they are cut
// structure-aware (JSON output stays parseable); up to OffloadAt a cheap
// summarizer call preserves semantic content; beyond that the payload is
// offloaded and replaced by an opaque handle the planner can re-query.
type Governor struct {
	cfg    *config.GovernorConfig
	gw     *gateway.Gateway
	store  offload.Store
	logger logging.Logger
}

// NewGovernor constructs a governor. gw and store may be nil; the governor
// then degrades to truncation for the affected tiers.
func NewGovernor(cfg *config.GovernorConfig, gw *gateway.Gateway, store offload.Store, logger logging.Logger) *Governor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Governor{cfg: cfg, gw: gw, store: store, logger: logger}
}

// Govern returns the context-safe form of one tool result.
func (g *Governor) Govern(ctx context.Context, toolName, output string) string {
	size := len(output)
	switch {
	case size <= g.cfg.TruncateAt:
		return output

	case size <= g.cfg.SummarizeAt:
		return g.truncate(output)

	case size <= g.cfg.OffloadAt:
		if summary, err := g.summarize(ctx, output); err == nil {
			return fmt.Sprintf("[SUMMARY of %d chars]\n%s", size, summary)
		}
		return g.truncate(output)

	default:
		if g.store != nil {
			handle, err := g.store.Put(ctx, toolName, output)
			if err == nil {
				g.logger.Info("governor.offloaded", "tool", toolName, "size", size, "handle", handle)
				return fmt.Sprintf("[OFFLOADED %d chars; handle=%s; query it with retrieve_offloaded]", size, handle)
			}
			g.logger.Warn("governor.offload.failed", "tool", toolName, "error", err.Error())
		}
		return g.truncate(output)
	}
}

// truncate cuts structure-aware: JSON payloads are pruned so they remain
// parseable; plain text is cut on a word boundary.
func (g *Governor) truncate(output string) string {
	if pruned, ok := pruneJSON(output, g.cfg.TruncateAt); ok {
		return pruned
	}
	return util.TruncateWords(output, g.cfg.TruncateAt)
}

func (g *Governor) summarize(ctx context.Context, output string) (string, error) {
	if g.gw == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	return g.gw.Invoke(ctx, gateway.RoleSummarizer, gateway.Request{
		Instructions: "Summarize the following tool output in under 150 words. Keep identifiers, names, numbers and URLs exact.",
		Messages:     []gateway.Message{{Role: "user", Content: output}},
	})
}

// largeValueKeys are known payload-bearing fields replaced wholesale during
// JSON pruning.
var largeValueKeys = map[string]bool{
	"html": true, "html_body": true, "raw_content": true, "body": true, "content": true,
}

// pruneJSON reduces a JSON document while keeping it valid JSON. Returns
// ok=false when the input is not JSON.
func pruneJSON(output string, max int) (string, bool) {
	trimmed := strings.TrimSpace(output)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var data any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return "", false
	}

	pruned := pruneValue(data, 0)
	out, err := json.Marshal(pruned)
	if err != nil {
		return "", false
	}
	if len(out) <= max {
		return string(out), true
	}
	// Still too big after pruning: reduce to a stub of the same structural
	// kind, with a preview cut from the pruned JSON rather than Go syntax.
	stub := map[string]any{"_truncated": true, "preview": util.TruncateWords(string(out), max/2)}
	var reduced any = stub
	if trimmed[0] == '[' {
		reduced = []any{stub}
	}
	b, err := json.Marshal(reduced)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func pruneValue(v any, depth int) any {
	if depth > 5 {
		return "[NESTED]"
	}
	switch val := v.(type) {
	case map[string]any:
		pruned := make(map[string]any, len(val))
		for k, inner := range val {
			if largeValueKeys[k] {
				pruned[k] = fmt.Sprintf("[%d chars omitted]", len(fmt.Sprintf("%v", inner)))
				continue
			}
			pruned[k] = pruneValue(inner, depth+1)
		}
		return pruned
	case []any:
		if len(val) > 5 {
			return []any{pruneValue(val[0], depth+1), fmt.Sprintf("... [%d more items]", len(val)-1)}
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = pruneValue(item, depth+1)
		}
		return out
	case string:
		if len(val) > 300 {
			return util.TruncateWords(val, 300)
		}
		return val
	default:
		return val
	}
}
