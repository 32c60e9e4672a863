package graph

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/logging"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestGraph(t *testing.T, mutate func(*config.GraphConfig)) (*Graph, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Identity.Name = "Dhanush"
	cfg.Identity.Attributes = map[string]string{"location": "Chennai"}
	cfg.Identity.NotClaims = []string{"public figure"}
	if mutate != nil {
		mutate(&cfg.Graph)
	}
	clock := newFakeClock()
	return New(&cfg.Graph, cfg.Identity, logging.NoOpLogger{}, WithClock(clock.Now)), clock
}

func TestConfidenceDecay(t *testing.T) {
	halfLife := 30 * 24 * time.Hour
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := &EntityNode{Confidence: 0.8, LastReferenced: base}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"day zero", 0, 0.8},
		{"one half life", halfLife, 0.4},
		{"two half lives", 2 * halfLife, 0.2},
		{"floor", 20 * halfLife, ConfidenceFloor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ConfidenceAt(base.Add(tt.elapsed), halfLife)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestTouchBoostCappedAtOne(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := &EntityNode{Confidence: 0.95, LastReferenced: now}

	e.Touch(now, 30*24*time.Hour, 0.1)

	assert.Equal(t, 1.0, e.Confidence)
	assert.Equal(t, 1, e.RefCount)
	assert.Equal(t, now, e.LastReferenced)
}

func TestIdentityProtected(t *testing.T) {
	g, _ := newTestGraph(t, nil)

	err := g.UpdateEntity(SelfID, map[string]string{"name": "Someone Else"}, SourceLLMInferred)
	require.ErrorIs(t, err, ErrInvariantViolation)

	err = g.UpdateEntity(SelfID, map[string]string{"hobby": "music"}, SourceToolObserved)
	require.ErrorIs(t, err, ErrInvariantViolation)

	// The user may mutate their own identity.
	err = g.UpdateEntity(SelfID, map[string]string{"hobby": "music"}, SourceUserStated)
	require.NoError(t, err)
	self := g.Self()
	assert.Equal(t, "music", self.Attributes["hobby"])
	assert.Equal(t, "Dhanush", self.Name)
}

func TestInferredEntityNeverAutoPromoted(t *testing.T) {
	g, _ := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.DefaultLifecycle = config.LifecycleConfig{
			CandidateRefs: 2, PromoteRefs: 100, PromoteConfidence: 0.5, DemoteConfidence: 0.1, Cap: 100,
		}
		cfg.Lifecycle = nil
	})

	m := Mention{Name: "jazz lover", Type: TypePreference, Source: SourceLLMInferred}
	id, err := g.RecordMention(m)
	require.NoError(t, err)

	// Touch until confidence clears the promote bar. An inferred entity
	// must stay CANDIDATE: the confidence route is closed to it.
	for i := 0; i < 10; i++ {
		_, err = g.RecordMention(m)
		require.NoError(t, err)
	}
	e, ok := g.Entity(id)
	require.True(t, ok)
	assert.Equal(t, LifecycleCandidate, e.Lifecycle)
	assert.Greater(t, e.Confidence, 0.5)

	// Explicit confirmation is the escape hatch.
	require.NoError(t, g.Confirm(id))
	e, _ = g.Entity(id)
	assert.Equal(t, LifecyclePromoted, e.Lifecycle)
	assert.Equal(t, SourceUserStated, e.Source)
}

func TestUserStatedPromotesImmediately(t *testing.T) {
	g, _ := newTestGraph(t, nil)

	id, err := g.RecordMention(Mention{Name: "Radiohead", Type: TypePerson, Source: SourceUserStated})
	require.NoError(t, err)

	e, ok := g.Entity(id)
	require.True(t, ok)
	assert.Equal(t, LifecyclePromoted, e.Lifecycle)
}

func TestResolveDemonstrativeToFocusEntity(t *testing.T) {
	g, _ := newTestGraph(t, nil)

	songID, err := g.RecordMention(Mention{Name: "Paranoid Android", Type: TypeMedia, Source: SourceToolObserved})
	require.NoError(t, err)
	g.RecordAction("play_song", map[string]any{"song": "Paranoid Android"}, "now playing Paranoid Android", songID, ActionSuccess)

	res := g.Snapshot().Resolve("who sings that")

	top, ok := res.Top()
	require.True(t, ok)
	assert.Equal(t, HypothesisEntity, top.Kind)
	assert.Equal(t, songID, top.Entity.ID)
	assert.InDelta(t, 0.9, top.Confidence, 1e-9)
	assert.False(t, res.ExcludeExternalSearch)
}

func TestResolveSelfReferenceBansExternalSearch(t *testing.T) {
	g, _ := newTestGraph(t, nil)
	snap := g.Snapshot()

	for _, q := range []string{"me", "who am i", "what do you know about me"} {
		res := snap.Resolve(q)
		top, ok := res.Top()
		require.True(t, ok, q)
		assert.Equal(t, SelfID, top.Entity.ID, q)
		assert.True(t, res.ExcludeExternalSearch, q)
	}
}

func TestResolveAgainReturnsRepeatIntent(t *testing.T) {
	g, _ := newTestGraph(t, nil)
	g.RecordAction("play_song", map[string]any{"song": "Karma Police"}, "now playing", "", ActionSuccess)

	res := g.Snapshot().Resolve("do that again")

	top, ok := res.Top()
	require.True(t, ok)
	assert.Equal(t, HypothesisAction, top.Kind)
	assert.Equal(t, IntentRepeat, top.Intent)
	assert.Equal(t, "play_song", top.Action.ToolName)
}

func TestResolveUnknownFallsBack(t *testing.T) {
	g, _ := newTestGraph(t, nil)

	res := g.Snapshot().Resolve("xyzzy")

	assert.True(t, res.NeedsClarification)
	assert.NotEmpty(t, res.Fallback)
	assert.Empty(t, res.Hypotheses)
}

func TestValidateCallsVetoesUserSearch(t *testing.T) {
	g, _ := newTestGraph(t, nil)
	snap := g.Snapshot()

	ok, reason := snap.ValidateCalls([]PlannedCall{
		{Tool: "web_search", Args: map[string]any{"query": "what do you know about me"}},
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "identity")

	ok, _ = snap.ValidateCalls([]PlannedCall{
		{Tool: "web_search", Args: map[string]any{"query": "weather in Chennai"}},
	})
	assert.True(t, ok)
}

func TestValidateCallsEnforcesNotClaims(t *testing.T) {
	g, _ := newTestGraph(t, nil)
	snap := g.Snapshot()

	ok, reason := snap.ValidateCalls([]PlannedCall{
		{Tool: "web_search", Args: map[string]any{"query": "dhanush the public figure biography"}},
	})
	assert.False(t, ok)
	assert.Contains(t, reason, "public figure")
}

func TestMaintenanceEvictsStalestCandidatesFirst(t *testing.T) {
	g, clock := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.Lifecycle = map[string]config.LifecycleConfig{
			"query": {CandidateRefs: 1, PromoteRefs: 100, PromoteConfidence: 1.1, DemoteConfidence: 0.0, Cap: 3},
		}
		cfg.EphemeralTTL = 0 // isolate cap eviction
	})

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := g.RecordMention(Mention{Name: fmt.Sprintf("query %d", i), Type: TypeQuery, Source: SourceToolObserved})
		require.NoError(t, err)
		// Second mention crosses the candidate threshold.
		_, err = g.RecordMention(Mention{Name: fmt.Sprintf("query %d", i), Type: TypeQuery, Source: SourceToolObserved})
		require.NoError(t, err)
		ids = append(ids, id)
		clock.Advance(time.Minute)
	}

	g.RunMaintenance()

	// The two stalest are gone, the three most recent survive.
	for _, id := range ids[:2] {
		_, ok := g.Entity(id)
		assert.False(t, ok, id)
	}
	for _, id := range ids[2:] {
		_, ok := g.Entity(id)
		assert.True(t, ok, id)
	}
}

func TestMaintenanceExemptsPromoted(t *testing.T) {
	g, clock := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.Lifecycle = map[string]config.LifecycleConfig{
			"media": {CandidateRefs: 1, PromoteRefs: 100, PromoteConfidence: 1.1, DemoteConfidence: 0.0, Cap: 1},
		}
		cfg.EphemeralTTL = 0
	})

	promoted, err := g.RecordMention(Mention{Name: "OK Computer", Type: TypeMedia, Source: SourceUserStated})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	kept, err := g.RecordMention(Mention{Name: "In Rainbows", Type: TypeMedia, Source: SourceToolObserved})
	require.NoError(t, err)

	g.RunMaintenance()

	_, ok := g.Entity(promoted)
	assert.True(t, ok, "promoted entity must never be evicted")
	_, ok = g.Entity(kept)
	assert.True(t, ok)
}

func TestMaintenanceCollectsExpiredEphemerals(t *testing.T) {
	g, clock := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.EphemeralTTL = time.Hour
	})

	id, err := g.RecordMention(Mention{Name: "one off", Type: TypeQuery, Source: SourceLLMInferred})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	g.RunMaintenance()

	_, ok := g.Entity(id)
	assert.False(t, ok)
	_, ok = g.Entity(SelfID)
	assert.True(t, ok)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")

	g, _ := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.PersistPath = path
	})
	promoted, err := g.RecordMention(Mention{Name: "Radiohead", Type: TypePerson, Source: SourceUserStated})
	require.NoError(t, err)
	ephemeral, err := g.RecordMention(Mention{Name: "throwaway", Type: TypeQuery, Source: SourceLLMInferred})
	require.NoError(t, err)
	g.RecordAction("web_search", map[string]any{"query": "radiohead tour"}, "found 3 results", promoted, ActionSuccess)
	require.NoError(t, g.UpdateEntity(SelfID, map[string]string{"hobby": "guitar"}, SourceUserStated))
	require.NoError(t, g.Save())

	restored, _ := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.PersistPath = path
	})

	e, ok := restored.Entity(promoted)
	require.True(t, ok)
	assert.Equal(t, LifecyclePromoted, e.Lifecycle)
	assert.Equal(t, SourceUserStated, e.Source)

	_, ok = restored.Entity(ephemeral)
	assert.False(t, ok, "ephemeral entities are excluded from persistence")

	self := restored.Self()
	assert.Equal(t, "guitar", self.Attributes["hobby"])
	assert.Equal(t, "Dhanush", self.Name)

	last, ok := restored.Snapshot().LastAction("")
	require.True(t, ok)
	assert.Equal(t, "web_search", last.ToolName)
	assert.True(t, last.Succeeded())
}

func TestSnapshotContextIsPure(t *testing.T) {
	g, _ := newTestGraph(t, nil)
	id, err := g.RecordMention(Mention{Name: "lofi beats", Type: TypeMedia, Source: SourceToolObserved})
	require.NoError(t, err)
	before, _ := g.Entity(id)

	snap := g.Snapshot()
	_ = snap.PlannerContext("play that again", 500)
	_ = snap.ResponderContext()
	_ = snap.Resolve("that")

	after, _ := g.Entity(id)
	assert.Equal(t, before.RefCount, after.RefCount)
	assert.Equal(t, before.Confidence, after.Confidence)
	assert.Equal(t, before.LastReferenced, after.LastReferenced)
}

func TestPlannerContextRespectsBudget(t *testing.T) {
	g, _ := newTestGraph(t, nil)
	for i := 0; i < 5; i++ {
		g.RecordAction("web_search", map[string]any{"query": "q"}, fmt.Sprintf("result %d with a fairly long summary body", i), "", ActionSuccess)
	}

	ctx := g.Snapshot().PlannerContext("recent searches", 80)

	assert.LessOrEqual(t, len(ctx), 80)
	assert.Contains(t, ctx, "...")
}

func TestActionWindowTrimmed(t *testing.T) {
	g, _ := newTestGraph(t, func(cfg *config.GraphConfig) {
		cfg.ActionWindow = 3
	})
	for i := 0; i < 10; i++ {
		g.RecordAction("tool", nil, fmt.Sprintf("r%d", i), "", ActionSuccess)
	}

	snap := g.Snapshot()
	require.Len(t, snap.Actions, 3)
	assert.Equal(t, "r9", snap.Actions[2].ResultSummary)
}
