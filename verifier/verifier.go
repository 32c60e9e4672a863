// Package verifier performs a binary truth-check of loop results against the
// original request. Cheap heuristics run first so obvious failures never
// spend a model call; the model verdict is bounded by its own short timeout
// and any verifier problem defaults to PASS, never blocking the critical
// path.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/planner"
)

const maxReasonLen = 60

const verifierPrompt = `You are a strict outcome verifier. Given a user request, the tools that ran and their results, decide whether the results satisfy the request.

Respond with ONLY a JSON object:
{"verdict": "PASS" or "FAIL", "reason": "<at most 12 words>"}

PASS when the results contain what the user asked for, even partially.
FAIL when the results are errors, empty, off-topic or contradict the request.`

// Verdict is the structured verifier outcome. A FAIL reason doubles as
// planner hindsight for the retry.
type Verdict struct {
	Passed bool
	Reason string
}

// Verifier evaluates loop results.
type Verifier struct {
	gw     *gateway.Gateway
	cfg    *config.VerifierConfig
	logger logging.Logger
}

// New constructs a verifier.
func New(gw *gateway.Gateway, cfg *config.VerifierConfig, logger logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Verifier{gw: gw, cfg: cfg, logger: logger}
}

// Verify evaluates whether the gathered tool results satisfy the request.
// Heuristic failures short-circuit without a model call; model failures and
// timeouts default to PASS.
func (v *Verifier) Verify(ctx context.Context, query string, history []planner.HistoryEntry) Verdict {
	if verdict := heuristics(history); verdict != nil {
		v.logger.Info("verifier.heuristic_fail", "reason", verdict.Reason)
		return *verdict
	}

	callCtx := ctx
	if v.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
	}

	text, err := v.gw.Invoke(callCtx, gateway.RoleVerifier, gateway.Request{
		Instructions: verifierPrompt,
		Messages: []gateway.Message{{
			Role:    "user",
			Content: fmt.Sprintf("User: %s\nPlan: %s\nResult:\n%s", query, summarizeTools(history), capResults(history, 1000)),
		}},
	})
	if err != nil {
		v.logger.Warn("verifier.unavailable", "error", err.Error())
		return Verdict{Passed: true, Reason: "verifier unavailable"}
	}
	return parseVerdict(text)
}

// contentTools are expected to return substantive content; a near-empty
// result from one of them is a failure.
var contentTools = map[string]bool{
	"web_search": true, "web_scrape": true, "file_read": true,
	"get_news": true, "define_word": true, "wikipedia": true,
}

// listTools may legitimately return "no results"; an empty list is a valid
// answer, not a failure.
var listTools = map[string]bool{
	"gmail_read_email": true, "calendar_get_events": true,
	"tasks_list": true, "note_list": true,
}

var validEmptyPatterns = []string{
	"no unread emails", "no emails found", "no new emails",
	"no events", "no calendar events", "nothing scheduled",
	"no tasks", "no pending tasks", "no notes", "no matching",
}

var errorPatterns = []string{
	"error:", "failed:", "exception:", "unable to", "access denied",
	"unauthorized", "timed out", "connection refused", "rate limit",
}

var weakPatterns = []string{
	"i'm sorry", "i couldn't", "unfortunately", "i was unable",
	"i don't have access", "permission denied", "invalid credentials",
	"not authorized",
}

// heuristics catches obvious failures without spending a model call. It
// returns nil when a model verdict is needed.
func heuristics(history []planner.HistoryEntry) *Verdict {
	if len(history) == 0 {
		return nil
	}

	tools := map[string]bool{}
	var combined strings.Builder
	for _, h := range history {
		tools[h.Tool] = true
		combined.WriteString(h.Result)
		combined.WriteString("\n")
	}
	output := strings.ToLower(combined.String())

	expectsContent := false
	isListOp := false
	for t := range tools {
		if contentTools[t] {
			expectsContent = true
		}
		if listTools[t] {
			isListOp = true
		}
	}

	if expectsContent && !isListOp && len(strings.TrimSpace(output)) < 20 {
		return &Verdict{Passed: false, Reason: "empty result when content expected"}
	}

	// An empty list is a valid answer for list operations.
	if isListOp {
		for _, p := range validEmptyPatterns {
			if strings.Contains(output, p) {
				return nil
			}
		}
	}

	for _, p := range errorPatterns {
		if strings.Contains(output, p) {
			return &Verdict{Passed: false, Reason: capReason("tool error: " + p)}
		}
	}
	for _, p := range weakPatterns {
		if strings.Contains(output, p) {
			return &Verdict{Passed: false, Reason: capReason("weak response: " + p)}
		}
	}
	return nil
}

// summarizeTools lists the executed tool names for the verifier context.
func summarizeTools(history []planner.HistoryEntry) string {
	if len(history) == 0 {
		return "(no tools)"
	}
	seen := map[string]bool{}
	var names []string
	for _, h := range history {
		if !seen[h.Tool] {
			seen[h.Tool] = true
			names = append(names, h.Tool)
		}
		if len(names) == 3 {
			break
		}
	}
	return strings.Join(names, ", ")
}

// capResults joins history results, newest last, capped to max bytes.
func capResults(history []planner.HistoryEntry, max int) string {
	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "%s: %s\n", h.Tool, h.Result)
	}
	out := b.String()
	return util.CapBytes(out, max)
}

var reasonPattern = regexp.MustCompile(`(?i)"reason"\s*:\s*"([^"]+)"`)

// parseVerdict reads the model's JSON verdict, tolerating markdown fences.
// Anything unparseable defaults to PASS unless the raw text says FAIL.
func parseVerdict(text string) Verdict {
	clean := util.StripMarkdownFences(text)

	var data struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(clean), &data); err == nil && data.Verdict != "" {
		reason := data.Reason
		if reason == "" {
			reason = "no reason provided"
		}
		return Verdict{Passed: strings.EqualFold(data.Verdict, "PASS"), Reason: capReason(reason)}
	}

	if strings.Contains(strings.ToUpper(text), "FAIL") {
		reason := "parse failed"
		if m := reasonPattern.FindStringSubmatch(text); m != nil {
			reason = m[1]
		}
		return Verdict{Passed: false, Reason: capReason(reason)}
	}
	return Verdict{Passed: true, Reason: "assumed pass"}
}

func capReason(r string) string {
	return util.CapBytes(r, maxReasonLen)
}
