// Package guard synthesizes the final user-facing reply and runs the
// deterministic output checks that keep it honest: no leaked tool-call JSON,
// no first-person action claims without a successful action behind them, and
// no statements contradicting the protected identity. All checks are local
// rewrites; the model is never re-invoked to fix its own output.
package guard

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/planner"
)

const noToolsRule = `You are a TEXT-ONLY responder. You cannot call tools.
Return plain conversational text only. Never output JSON, tool schemas or {"name": ...} patterns.
If tool results are provided below, the action already completed: acknowledge it naturally, do not tell the user to do it manually.
Never claim to have performed an action that is not listed in the tool results.`

const (
	leakFallback = "I ran into an issue putting that answer together. Could you rephrase?"

	noActionReply = "I understand you want me to do something, but I wasn't able to take any action. Could you clarify what you'd like me to do?"

	identityFallback = "I had my notes mixed up for a moment there. What else can I help with?"
)

// Input carries everything the guard needs to produce one reply.
type Input struct {
	Query    string
	Snapshot *graph.Snapshot
	History  []planner.HistoryEntry
	// Partial marks a budget-exhausted run: the reply should present what
	// was gathered and say what is missing.
	Partial bool
}

// Guard synthesizes and vets the final reply.
type Guard struct {
	gw     *gateway.Gateway
	logger logging.Logger
}

// New constructs a guard.
func New(gw *gateway.Gateway, logger logging.Logger) *Guard {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Guard{gw: gw, logger: logger}
}

// Respond synthesizes the reply and applies the output checks. Gateway
// errors surface to the caller; the pipeline owns the error taxonomy.
func (g *Guard) Respond(ctx context.Context, in Input) (string, error) {
	text, err := g.gw.Invoke(ctx, gateway.RoleResponder, g.buildRequest(in))
	if err != nil {
		return "", err
	}
	return g.sanitize(text, in), nil
}

func (g *Guard) buildRequest(in Input) gateway.Request {
	parts := []string{noToolsRule}

	if in.Snapshot != nil {
		parts = append(parts, in.Snapshot.ResponderContext())
	}
	if len(in.History) > 0 {
		var b strings.Builder
		b.WriteString("[TOOL RESULTS]\nThese actions already ran. Respond using this data:\n")
		for _, h := range in.History {
			status := "ok"
			if !h.OK {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s [%s]: %s\n", h.Tool, status, h.Result)
		}
		parts = append(parts, b.String())
	}
	if in.Partial {
		parts = append(parts, "[NOTE] The time budget ran out before everything finished. Present what was gathered and say plainly what is still missing.")
	}
	parts = append(parts, "Task: respond naturally based on the context above.")

	return gateway.Request{
		Instructions: strings.Join(parts, "\n\n"),
		Messages:     []gateway.Message{{Role: "user", Content: in.Query}},
	}
}

var (
	toolLeakPattern  = regexp.MustCompile(`\{\s*"(name|tool|function|action)"\s*:`)
	sentencePattern  = regexp.MustCompile(`[^.!?]+[.!?]*\s*`)
	actionClaimExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bi (have |just )?(sent|scheduled|created|added|updated|played|opened|deleted|saved)\b`),
		regexp.MustCompile(`(?i)\b(email|event|task|note|file) (has been|was) (sent|created|scheduled|added)\b`),
		regexp.MustCompile(`(?i)\bdone[.!]?\s*$`),
		regexp.MustCompile(`(?i)\bplaying now\b`),
		regexp.MustCompile(`(?i)\bsuccessfully (sent|created|scheduled|added|saved)\b`),
	}
)

// sanitize applies the deterministic checks in order: tool-call leak
// stripping, false action claims, identity contradictions.
func (g *Guard) sanitize(text string, in Input) string {
	out := g.stripToolLeak(text)
	out = g.checkActionClaims(out, in.History)
	if in.Snapshot != nil {
		out = g.checkIdentity(out, in.Snapshot.Self())
	}
	return out
}

// stripToolLeak cuts the reply at the first tool-call-shaped JSON fragment.
func (g *Guard) stripToolLeak(text string) string {
	loc := toolLeakPattern.FindStringIndex(text)
	if loc == nil {
		return text
	}
	g.logger.Warn("guard.tool_leak_stripped")
	clean := strings.TrimSpace(text[:loc[0]])
	if len(clean) < 10 {
		return leakFallback
	}
	return clean
}

// checkActionClaims rewrites replies that claim a completed action when no
// tool call in this request actually succeeded.
func (g *Guard) checkActionClaims(text string, history []planner.HistoryEntry) string {
	for _, h := range history {
		if h.OK {
			return text
		}
	}
	for _, re := range actionClaimExprs {
		if re.MatchString(text) {
			g.logger.Warn("guard.false_action_claim", "pattern", re.String())
			return noActionReply
		}
	}
	return text
}

// checkIdentity drops sentences that assert one of the identity's negative
// claims about the user.
func (g *Guard) checkIdentity(text string, self graph.EntityNode) string {
	if len(self.NotClaims) == 0 {
		return text
	}

	exprs := make([]*regexp.Regexp, 0, len(self.NotClaims))
	for _, nc := range self.NotClaims {
		nc = strings.TrimSpace(nc)
		if nc == "" {
			continue
		}
		exprs = append(exprs, regexp.MustCompile(
			`(?i)\b(you are|you're|`+regexp.QuoteMeta(self.Name)+` is)\s+(a |an |the )?`+regexp.QuoteMeta(nc)))
	}
	if len(exprs) == 0 {
		return text
	}

	var kept []string
	dropped := false
	for _, sentence := range sentencePattern.FindAllString(text, -1) {
		violation := false
		for _, re := range exprs {
			if re.MatchString(sentence) {
				violation = true
				break
			}
		}
		if violation {
			dropped = true
			continue
		}
		kept = append(kept, sentence)
	}
	if !dropped {
		return text
	}
	g.logger.Warn("guard.identity_claim_removed")
	out := strings.TrimSpace(strings.Join(kept, ""))
	if out == "" {
		return identityFallback
	}
	return out
}
