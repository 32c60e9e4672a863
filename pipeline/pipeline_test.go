package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/guard"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/loop"
	"github.com/chande-dhanush/Sakura/offload"
	"github.com/chande-dhanush/Sakura/planner"
	"github.com/chande-dhanush/Sakura/router"
	"github.com/chande-dhanush/Sakura/tool"
	"github.com/chande-dhanush/Sakura/verifier"
)

type fixture struct {
	pipeline *Pipeline
	provider *gateway.MockProvider
	graph    *graph.Graph
}

func newFixture(t *testing.T, bucket config.BucketConfig, tools ...tool.Tool) *fixture {
	t.Helper()
	provider := gateway.NewMockProvider("mock-model", "mock")
	gw := gateway.New(provider, &config.GatewayConfig{
		Default:     bucket,
		CallTimeout: time.Second,
	}, logging.NoOpLogger{})

	reg, err := tool.NewRegistry(logging.NoOpLogger{}, tools...)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Loop.MaxIterations = 2
	cfg.Identity.Name = "Dhanush"
	g := graph.New(&cfg.Graph, cfg.Identity, logging.NoOpLogger{})

	pl := planner.New(gw, reg, &cfg.Loop, logging.NoOpLogger{})
	gov := loop.NewGovernor(&cfg.Governor, gw, offload.NewMemoryStore(), logging.NoOpLogger{})
	lp := loop.New(pl, reg, gov, g, &cfg.Loop, logging.NoOpLogger{})

	p := New(
		router.New(gw, logging.NoOpLogger{}),
		lp,
		verifier.New(gw, &cfg.Verifier, logging.NoOpLogger{}),
		guard.New(gw, logging.NoOpLogger{}),
		reg, gov, g, &cfg.Loop, logging.NoOpLogger{},
	)
	return &fixture{pipeline: p, provider: provider, graph: g}
}

func defaultBucket() config.BucketConfig {
	return config.BucketConfig{Capacity: 1000, RefillPerSec: 1000, MaxWait: time.Second}
}

func searchTool(fn func(args map[string]any) (string, error)) tool.Tool {
	return tool.NewFunctionTool("web_search", "Search the web", map[string]any{"type": "object"},
		func(_ context.Context, args map[string]any) (string, error) { return fn(args) })
}

func TestChatModeRepliesWithoutTools(t *testing.T) {
	f := newFixture(t, defaultBucket())
	f.provider.AddResponse("hello", "Hey! How can I help?")

	reply := f.pipeline.Handle(context.Background(), "hello")

	assert.Equal(t, router.ModeChat, reply.Mode)
	assert.Equal(t, "Hey! How can I help?", reply.Text)
	assert.True(t, reply.Verified)
	assert.NotEmpty(t, reply.RequestID)
	assert.Equal(t, 1, f.provider.Calls(), "greeting bypasses the router model call")
}

func TestOneShotExecutesHintedTool(t *testing.T) {
	played := false
	f := newFixture(t, defaultBucket(),
		tool.NewFunctionTool("spotify_control", "Music", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (string, error) {
				played = true
				return "playing", nil
			}))
	f.provider.AddResponse("Plan: spotify_control", `{"verdict": "PASS", "reason": "music is playing"}`)
	f.provider.AddResponse("play some music", "Playing now!")

	reply := f.pipeline.Handle(context.Background(), "play some music")

	assert.Equal(t, router.ModeOneShot, reply.Mode)
	assert.Equal(t, loop.OutcomeSuccess, reply.Outcome)
	assert.Equal(t, "Playing now!", reply.Text)
	assert.True(t, played)

	last, ok := f.graph.Snapshot().LastAction("spotify_control")
	require.True(t, ok)
	assert.True(t, last.Succeeded())
}

func TestOneShotUnknownHintDegradesToLoop(t *testing.T) {
	f := newFixture(t, defaultBucket())
	// Router hints open_app, which is not registered; the loop takes over
	// and the planner ends it with an empty plan.
	f.provider.AddResponse("Request: open sesame app now", `{"steps": []}`)
	f.provider.AddResponse("open sesame", "I couldn't find that app.")

	reply := f.pipeline.Handle(context.Background(), "open sesame app now")

	assert.Equal(t, router.ModeOneShot, reply.Mode)
	assert.Equal(t, loop.OutcomeSuccess, reply.Outcome)
	assert.Equal(t, "I couldn't find that app.", reply.Text)
}

func TestVerifierFailTriggersOneRetryWithHindsight(t *testing.T) {
	f := newFixture(t, defaultBucket(), searchTool(func(args map[string]any) (string, error) {
		if args["query"] == "qc overview" {
			return "a fan page about quantum computing with rumors", nil
		}
		return "official quantum computing overview with equations", nil
	}))
	// First plan finds a fan page; the verifier rejects it and its reason is
	// injected as hindsight, steering the retry to official sources.
	f.provider.AddResponse("Request: research quantum computing please",
		`{"steps": [{"tool": "web_search", "args": {"query": "qc overview"}, "terminal": true}]}`)
	f.provider.AddResponse("a fan page about quantum computing with rumors",
		`{"verdict": "FAIL", "reason": "result is a fan page, find official sources instead"}`)
	f.provider.AddResponse("result is a fan page, find official sources instead",
		`{"steps": [{"tool": "web_search", "args": {"query": "quantum computing official"}, "terminal": true}]}`)
	f.provider.AddResponse("official quantum computing overview with equations",
		`{"verdict": "PASS", "reason": "covers the topic"}`)
	f.provider.AddResponse("research quantum computing please", "Here is the official overview.")

	reply := f.pipeline.Handle(context.Background(), "research quantum computing please")

	assert.Equal(t, router.ModeIterative, reply.Mode)
	assert.Equal(t, loop.OutcomeSuccess, reply.Outcome)
	assert.True(t, reply.Verified)
	assert.Equal(t, "Here is the official overview.", reply.Text)
	assert.Equal(t, 5, f.provider.Calls(), "plan, verify, retry plan, verify, respond")
}

func TestSecondVerifierFailIsAcceptedAndPassedThrough(t *testing.T) {
	f := newFixture(t, defaultBucket(), searchTool(func(map[string]any) (string, error) {
		return "some ambiguous comparison data points here", nil
	}))
	f.provider.AddResponse("Request: compare apples and oranges today",
		`{"steps": [{"tool": "web_search", "args": {"query": "x"}, "terminal": true}]}`)
	f.provider.AddResponse("some ambiguous comparison data points here",
		`{"verdict": "FAIL", "reason": "does not actually compare the two items directly"}`)
	// The retry planner gives up, so the original result is kept and fails
	// verification a second time.
	f.provider.AddResponse("does not actually compare the two items directly", `{"steps": []}`)
	f.provider.AddResponse("compare apples and oranges", "I found some data, though it may not fully answer you.")

	reply := f.pipeline.Handle(context.Background(), "compare apples and oranges today")

	assert.Equal(t, loop.OutcomeSuccess, reply.Outcome)
	assert.False(t, reply.Verified)
	assert.Contains(t, reply.VerifyReason, "compare")
	assert.Equal(t, "I found some data, though it may not fully answer you.", reply.Text)
}

func TestPartialBudgetWithOutputStillSynthesizes(t *testing.T) {
	f := newFixture(t, defaultBucket(), searchTool(func(map[string]any) (string, error) {
		return "found a few details", nil
	}))
	plan := `{"steps": [{"tool": "web_search", "args": {"query": "alpha beta"}}]}`
	f.provider.AddResponse("Request: research alpha beta extensively", plan)
	f.provider.AddResponse("GOAL REMINDER", plan)
	f.provider.AddResponse("Plan: web_search", `{"verdict": "PASS", "reason": "details found"}`)
	f.provider.AddResponse("alpha beta", "Gathered part of it; here's what I have so far.")

	reply := f.pipeline.Handle(context.Background(), "research alpha beta extensively")

	assert.Equal(t, loop.OutcomePartial, reply.Outcome)
	assert.True(t, reply.Verified)
	assert.Equal(t, "Gathered part of it; here's what I have so far.", reply.Text)
}

func TestEmptyHandedFailureGetsFailureReply(t *testing.T) {
	f := newFixture(t, defaultBucket(), searchTool(func(map[string]any) (string, error) {
		return "", errors.New("access denied")
	}))
	plan := `{"steps": [{"tool": "web_search", "args": {"query": "x"}}]}`
	f.provider.AddResponse("Request: research the missing files story", plan)
	f.provider.AddResponse("GOAL REMINDER", plan)

	reply := f.pipeline.Handle(context.Background(), "research the missing files story")

	assert.Equal(t, loop.OutcomeFailed, reply.Outcome)
	assert.False(t, reply.Verified, "heuristic verifier fails on access denied")
	assert.Equal(t, failedReply, reply.Text)
}

func TestRateLimitSurfacesAsBusyReply(t *testing.T) {
	f := newFixture(t, config.BucketConfig{Capacity: 0, RefillPerSec: 0, MaxWait: 10 * time.Millisecond})

	reply := f.pipeline.Handle(context.Background(), "hello")

	assert.Equal(t, busyReply, reply.Text)
}

func TestModelUnavailableSurfacesAsApology(t *testing.T) {
	f := newFixture(t, defaultBucket())
	f.provider.FailWith(errors.New("upstream down"))

	reply := f.pipeline.Handle(context.Background(), "hello")

	assert.Equal(t, unavailableReply, reply.Text)
}

func TestToolQueriesAreRecordedInGraph(t *testing.T) {
	f := newFixture(t, defaultBucket(),
		tool.NewFunctionTool("spotify_control", "Music", map[string]any{"type": "object"},
			func(context.Context, map[string]any) (string, error) { return "playing", nil }))
	f.provider.AddResponse("Plan: spotify_control", `{"verdict": "PASS", "reason": "ok"}`)
	f.provider.AddResponse("play some music", "Playing now!")

	f.pipeline.Handle(context.Background(), "play some music")

	id := graph.EntityID(graph.TypeQuery, "play some music")
	e, ok := f.graph.Entity(id)
	require.True(t, ok, "the query is recorded as an ephemeral entity")
	assert.Equal(t, graph.LifecycleEphemeral, e.Lifecycle)
}

func TestOneShotUserIdentityQueryNeverSearchesExternally(t *testing.T) {
	searched := false
	f := newFixture(t, defaultBucket(), searchTool(func(map[string]any) (string, error) {
		searched = true
		return "external results about some stranger", nil
	}))
	f.provider.AddResponse("about me", "You're Dhanush. That's everything I have stored.")

	reply := f.pipeline.Handle(context.Background(), "search for info about me")

	assert.False(t, searched, "identity queries must never reach external search")
	assert.Equal(t, router.ModeOneShot, reply.Mode)
	assert.Equal(t, loop.OutcomeSuccess, reply.Outcome)
	assert.Equal(t, "You're Dhanush. That's everything I have stored.", reply.Text)
	assert.Equal(t, 1, f.provider.Calls(), "only the responder call is spent")
}

func TestRecordQueryKeepsResolvedEntitySource(t *testing.T) {
	cfg := config.Default()
	cfg.Graph.EphemeralTTL = time.Millisecond
	g := graph.New(&cfg.Graph, cfg.Identity, logging.NoOpLogger{})

	_, err := g.RecordMention(graph.Mention{Name: "paranoid android", Type: graph.TypeMedia, Source: graph.SourceLLMInferred})
	require.NoError(t, err)
	g.RecordAction("spotify_control", map[string]any{"song": "paranoid android"},
		"now playing", graph.EntityID(graph.TypeMedia, "paranoid android"), graph.ActionSuccess)

	snap := g.Snapshot()

	// The entity expires between the snapshot and the record.
	time.Sleep(5 * time.Millisecond)
	g.RunMaintenance()
	_, ok := g.Entity(graph.EntityID(graph.TypeMedia, "paranoid android"))
	require.False(t, ok, "ephemeral entity past TTL is gone")

	p := &Pipeline{graph: g, logger: logging.NoOpLogger{}}
	p.recordQuery("queue that as well", snap)

	e, ok := g.Entity(graph.EntityID(graph.TypeMedia, "paranoid android"))
	require.True(t, ok, "the resolved mention recreates the entity")
	assert.Equal(t, graph.SourceLLMInferred, e.Source, "a resolution is not a user statement")
	assert.Equal(t, graph.LifecycleEphemeral, e.Lifecycle)
}
