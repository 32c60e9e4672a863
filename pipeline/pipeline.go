// Package pipeline orchestrates one request end to end: route, execute,
// verify, respond. Whatever failure path a request takes, exactly one
// user-safe reply comes out; raw errors never reach the user.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/guard"
	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/loop"
	"github.com/chande-dhanush/Sakura/planner"
	"github.com/chande-dhanush/Sakura/router"
	"github.com/chande-dhanush/Sakura/tool"
	"github.com/chande-dhanush/Sakura/verifier"
)

// User-safe replies for the failure taxonomy.
const (
	busyReply = "I'm handling a lot right now. Give me a moment and ask again."

	unavailableReply = "I'm sorry, I couldn't reach my language model just now. Please try again in a bit."

	failedReply = "I'm sorry, I wasn't able to get that done within my limits. Could you try rephrasing or breaking it up?"
)

// Reply is the single user-facing result of one request.
type Reply struct {
	RequestID string
	Text      string
	Mode      router.Mode
	// Outcome is set for tool-executing modes; empty for CHAT.
	Outcome loop.Outcome
	// Verified is false only when the verifier failed the result twice.
	Verified bool
	// VerifyReason carries the last FAIL reason for diagnostics.
	VerifyReason string
}

// Pipeline wires the stages together. All collaborators are injected; the
// pipeline holds no global state of its own.
type Pipeline struct {
	router   *router.Router
	loop     *loop.Loop
	verifier *verifier.Verifier
	guard    *guard.Guard
	registry *tool.Registry
	governor *loop.Governor
	graph    *graph.Graph
	cfg      *config.LoopConfig
	logger   logging.Logger
	clock    func() time.Time
}

// New constructs a pipeline.
func New(rt *router.Router, l *loop.Loop, v *verifier.Verifier, gd *guard.Guard,
	registry *tool.Registry, governor *loop.Governor, g *graph.Graph,
	cfg *config.LoopConfig, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Pipeline{
		router:   rt,
		loop:     l,
		verifier: v,
		guard:    gd,
		registry: registry,
		governor: governor,
		graph:    g,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
	}
}

// Handle processes one request and always returns a reply. The graph is read
// through a snapshot taken once here, so reference resolution stays stable
// for the whole request.
func (p *Pipeline) Handle(ctx context.Context, query string) Reply {
	requestID := uuid.NewString()
	start := p.clock()
	snap := p.graph.Snapshot()

	route := p.router.Classify(ctx, query, snap)
	p.logger.Info("pipeline.routed", "request_id", requestID, "mode", string(route.Mode), "hint", route.ToolHint)

	reply := Reply{RequestID: requestID, Mode: route.Mode, Verified: true}

	if !route.NeedsTools() {
		reply.Text = p.synthesize(ctx, guard.Input{Query: query, Snapshot: snap})
		return reply
	}

	p.recordQuery(query, snap)

	ec := &loop.ExecutionContext{
		RequestID: requestID,
		Query:     query,
		ToolHint:  route.ToolHint,
		Snapshot:  snap,
		Start:     start,
	}

	var result loop.Result
	if route.Mode == router.ModeOneShot {
		result = p.runOneShot(ctx, ec)
	} else {
		result = p.loop.Run(ctx, ec)
	}

	result, reply.Verified, reply.VerifyReason = p.verify(ctx, ec, result)
	reply.Outcome = result.Outcome

	// Empty-handed failure is the one budget case surfaced as a failure
	// reply; anything with output gets synthesized, partial or not.
	if result.Outcome == loop.OutcomeFailed && result.Successes() == 0 {
		p.logger.Warn("pipeline.failed_empty", "request_id", requestID, "reason", result.Reason)
		reply.Text = failedReply
		return reply
	}

	reply.Text = p.synthesize(ctx, guard.Input{
		Query:    query,
		Snapshot: snap,
		History:  result.History,
		Partial:  result.Outcome == loop.OutcomePartial,
	})
	return reply
}

// runOneShot executes the single hinted tool call without the planner. A
// missing or unknown hint degrades to the full loop; forced-plan arguments
// are reused when the query matches one.
func (p *Pipeline) runOneShot(ctx context.Context, ec *loop.ExecutionContext) loop.Result {
	step := planner.Step{ID: 1, Tool: ec.ToolHint, Args: map[string]any{"query": ec.Query}, Terminal: true}
	if forced, ok := planner.ForcedPlan(ec.Query); ok {
		step = forced[0]
	}

	if _, known := p.registry.Lookup(step.Tool); !known {
		p.logger.Debug("pipeline.oneshot.degraded", "request_id", ec.RequestID, "hint", ec.ToolHint)
		return p.loop.Run(ctx, ec)
	}

	// One-shot steps pass the same graph vetting as planned steps; skipping
	// the planner must not skip the identity veto. A vetoed step executes
	// nothing and the answer is synthesized from stored identity context.
	if ok, reason := ec.Snapshot.ValidateCalls([]graph.PlannedCall{{Tool: step.Tool, Args: step.Args}}); !ok {
		p.logger.Info("pipeline.oneshot.vetoed", "request_id", ec.RequestID, "tool", step.Tool, "reason", reason)
		return loop.Result{FinalState: loop.StateDone, Outcome: loop.OutcomeSuccess, Reason: reason}
	}

	r := p.registry.Call(ctx, step.Tool, step.Args)
	governed := r.Output
	if p.governor != nil {
		governed = p.governor.Govern(ctx, step.Tool, r.Output)
	}
	ok := r.Status == tool.StatusSuccess

	status := graph.ActionError
	if ok {
		status = graph.ActionSuccess
	}
	p.graph.RecordAction(step.Tool, step.Args, governed, "", status)

	res := loop.Result{
		History:    []planner.HistoryEntry{{Tool: step.Tool, Args: step.Args, Result: governed, OK: ok}},
		Iterations: 1,
		FinalState: loop.StateDone,
		Outcome:    loop.OutcomeSuccess,
	}
	if !ok {
		res.Outcome = loop.OutcomeFailed
		res.Reason = "one-shot tool call failed"
	}
	return res
}

// verify runs the verifier and, on a first FAIL, exactly one loop retry with
// the reason injected as hindsight. A second FAIL is accepted and passed
// through so the user still gets an answer.
func (p *Pipeline) verify(ctx context.Context, ec *loop.ExecutionContext, result loop.Result) (loop.Result, bool, string) {
	if p.verifier == nil || len(result.History) == 0 {
		return result, true, ""
	}

	verdict := p.verifier.Verify(ctx, ec.Query, result.History)
	if verdict.Passed {
		return result, true, ""
	}
	p.logger.Info("pipeline.verify.retry", "request_id", ec.RequestID, "reason", verdict.Reason)

	ec.Hindsight = verdict.Reason
	retried := p.loop.Run(ctx, ec)
	if len(retried.History) > 0 {
		result = retried
	}

	verdict = p.verifier.Verify(ctx, ec.Query, result.History)
	return result, verdict.Passed, verdict.Reason
}

// synthesize produces the final reply text, mapping gateway errors to the
// user-safe taxonomy.
func (p *Pipeline) synthesize(ctx context.Context, in guard.Input) string {
	text, err := p.guard.Respond(ctx, in)
	if err == nil {
		return text
	}
	p.logger.Error("pipeline.synthesis.failed", "error", err.Error())
	switch {
	case errors.Is(err, gateway.ErrRateLimitExceeded):
		return busyReply
	case errors.Is(err, gateway.ErrModelUnavailable):
		return unavailableReply
	default:
		return unavailableReply
	}
}

// recordQuery folds the request into the graph: the query itself as an
// ephemeral entity and a touch on any entity the query clearly resolves to.
// Graph rejections are logged here and never surface to the user.
func (p *Pipeline) recordQuery(query string, snap *graph.Snapshot) {
	name := util.CapBytes(strings.TrimSpace(query), 80)
	if name != "" {
		if _, err := p.graph.RecordMention(graph.Mention{Name: name, Type: graph.TypeQuery, Source: graph.SourceLLMInferred}); err != nil {
			p.logger.Warn("pipeline.record_query.rejected", "error", err.Error())
		}
	}

	res := snap.Resolve(query)
	if top, ok := res.Top(); ok && top.Kind == graph.HypothesisEntity && top.Confidence > 0.5 {
		// Re-mention under the entity's own source: a resolution is not a
		// user statement, and must not re-mint an evicted entity as PROMOTED.
		if _, err := p.graph.RecordMention(graph.Mention{Name: top.Entity.Name, Type: top.Entity.Type, Source: top.Entity.Source}); err != nil {
			p.logger.Warn("pipeline.record_mention.rejected", "error", err.Error())
		}
	}
}
