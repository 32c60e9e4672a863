// Package loop runs the bounded plan/execute/observe state machine that
// turns a request into tool invocations. Every suspension point carries a
// budget; exhausting the iteration cap or wall clock downgrades to a partial
// result instead of hanging or failing outright.
package loop

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/planner"
	"github.com/chande-dhanush/Sakura/tool"
)

// State is the loop's position in the plan/execute/observe cycle.
type State string

// Loop states.
const (
	StatePlanning       State = "PLANNING"
	StateExecuting      State = "EXECUTING"
	StateObserving      State = "OBSERVING"
	StateDone           State = "DONE"
	StateBudgetExceeded State = "BUDGET_EXCEEDED"
)

// Outcome is the terminal quality of a loop run.
type Outcome string

// Loop outcomes. Partial means the budget ran out with at least one
// successful tool result to synthesize from; Failed means zero results.
const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailed  Outcome = "FAILED"
)

// ExecutionContext is the explicit request-scoped state threaded through
// every stage: no stage infers mode or budget from globals.
type ExecutionContext struct {
	RequestID string
	Query     string
	ToolHint  string
	Snapshot  *graph.Snapshot
	Start     time.Time
	Budget    time.Duration
	Hindsight string
}

// Remaining reports the unspent wall-clock budget.
func (ec *ExecutionContext) Remaining(now time.Time) time.Duration {
	return ec.Budget - now.Sub(ec.Start)
}

// Result is what the loop hands to the verifier and responder.
type Result struct {
	Outcome    Outcome
	FinalState State
	History    []planner.HistoryEntry
	Iterations int
	// Reason is set when the loop ended abnormally (budget, planner error).
	Reason string
}

// Successes counts the successful tool results gathered.
func (r *Result) Successes() int {
	n := 0
	for _, h := range r.History {
		if h.OK {
			n++
		}
	}
	return n
}

// Loop drives the state machine. Safe for concurrent use; all per-request
// state lives in the ExecutionContext and Result.
type Loop struct {
	planner  *planner.Planner
	registry *tool.Registry
	governor *Governor
	graph    *graph.Graph
	cfg      *config.LoopConfig
	logger   logging.Logger
	clock    func() time.Time
}

// New constructs a loop.
func New(p *planner.Planner, registry *tool.Registry, governor *Governor, g *graph.Graph, cfg *config.LoopConfig, logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Loop{
		planner:  p,
		registry: registry,
		governor: governor,
		graph:    g,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
	}
}

// Run executes the loop until DONE or a budget boundary. Within one request
// the states are strictly sequential: OBSERVING always sees the results of
// the EXECUTING step that preceded it.
func (l *Loop) Run(ctx context.Context, ec *ExecutionContext) Result {
	res := Result{FinalState: StatePlanning}
	if ec.Start.IsZero() {
		ec.Start = l.clock()
	}
	if ec.Budget <= 0 {
		ec.Budget = l.cfg.WallBudget
	}

	for {
		if res.Iterations >= l.cfg.MaxIterations {
			return l.finishExhausted(&res, "iteration cap reached")
		}
		if ec.Remaining(l.clock()) <= 0 {
			return l.finishExhausted(&res, "wall budget exhausted")
		}
		res.Iterations++

		// PLANNING
		plan, err := l.propose(ctx, ec, res.History)
		if err != nil {
			l.logger.Warn("loop.planning.failed", "request_id", ec.RequestID, "iteration", res.Iterations, "error", err.Error())
			res.Reason = err.Error()
			if res.Successes() > 0 {
				res.Outcome = OutcomePartial
			} else {
				res.Outcome = OutcomeFailed
			}
			res.FinalState = StateDone
			return res
		}
		if len(plan) == 0 {
			res.FinalState = StateDone
			if res.Successes() > 0 || res.Iterations == 1 {
				res.Outcome = OutcomeSuccess
			} else {
				res.Outcome = OutcomeFailed
			}
			return res
		}

		// EXECUTING: independent calls within one plan step batch are
		// dispatched concurrently and joined before observing.
		res.FinalState = StateExecuting
		results := l.execute(ctx, plan)

		// OBSERVING
		res.FinalState = StateObserving
		terminalDone := false
		for i, step := range plan {
			r := results[i]
			governed := r.Output
			if l.governor != nil {
				governed = l.governor.Govern(ctx, step.Tool, r.Output)
			}
			ok := r.Status == tool.StatusSuccess
			res.History = append(res.History, planner.HistoryEntry{
				Tool:   step.Tool,
				Args:   step.Args,
				Result: governed,
				OK:     ok,
			})
			l.record(step, governed, ok)
			if step.Terminal && ok {
				terminalDone = true
			}
		}
		if terminalDone {
			res.FinalState = StateDone
			res.Outcome = OutcomeSuccess
			return res
		}
		res.FinalState = StatePlanning
	}
}

// propose calls the planner under the per-iteration timeout.
func (l *Loop) propose(ctx context.Context, ec *ExecutionContext, history []planner.HistoryEntry) (planner.Plan, error) {
	planCtx := ctx
	if l.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithTimeout(ctx, l.cfg.IterationTimeout)
		defer cancel()
	}
	return l.planner.Propose(planCtx, planner.Request{
		Query:     ec.Query,
		Snapshot:  ec.Snapshot,
		History:   history,
		Hindsight: ec.Hindsight,
		ToolHint:  ec.ToolHint,
	})
}

// execute dispatches all steps of one plan concurrently and joins them.
// Tool errors become ERROR results; they never abort the batch.
func (l *Loop) execute(ctx context.Context, plan planner.Plan) []tool.Result {
	results := make([]tool.Result, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	for i, step := range plan {
		g.Go(func() error {
			results[i] = l.registry.Call(gctx, step.Tool, step.Args)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors; failures are Results
	return results
}

// record folds one observed call into the graph as an action node.
func (l *Loop) record(step planner.Step, governed string, ok bool) {
	if l.graph == nil {
		return
	}
	status := graph.ActionError
	if ok {
		status = graph.ActionSuccess
	}
	l.graph.RecordAction(step.Tool, step.Args, governed, focusFor(step), status)
}

// focusArgKeys orders well-known argument names by specificity; the first
// one present wins, so a step carrying both "song" and "query" always
// focuses the song.
var focusArgKeys = []struct {
	key string
	typ graph.EntityType
}{
	{"song", graph.TypeMedia},
	{"song_name", graph.TypeMedia},
	{"track", graph.TypeMedia},
	{"topic", graph.TypeTopic},
	{"app", graph.TypeApp},
	{"query", graph.TypeQuery},
}

// focusFor derives the focus entity id for well-known argument shapes.
func focusFor(step planner.Step) string {
	for _, fk := range focusArgKeys {
		if v, ok := step.Args[fk.key].(string); ok && v != "" {
			return graph.EntityID(fk.typ, v)
		}
	}
	return ""
}

func (l *Loop) finishExhausted(res *Result, reason string) Result {
	res.FinalState = StateBudgetExceeded
	res.Reason = reason
	if res.Successes() > 0 {
		res.Outcome = OutcomePartial
	} else {
		res.Outcome = OutcomeFailed
	}
	l.logger.Warn("loop.budget_exceeded", "reason", reason, "iterations", res.Iterations, "successes", res.Successes())
	return *res
}
