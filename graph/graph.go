package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/internal/util"
	"github.com/chande-dhanush/Sakura/logging"
)

// ErrInvariantViolation signals an attempted mutation of the protected
// identity or an illegal auto-promotion. Callers log it and move on; it is
// never surfaced to the end user.
var ErrInvariantViolation = errors.New("graph invariant violation")

// ErrEntityNotFound is returned when an update targets an unknown entity.
var ErrEntityNotFound = errors.New("entity not found")

// Graph owns all entities and actions. Mutation goes through a single
// mutex; reads for the request path go through immutable Snapshots so that
// context building never mutates recency counters or lifecycle state.
type Graph struct {
	mu       sync.Mutex
	entities map[string]*EntityNode
	actions  []ActionNode
	focus    string // focus entity id of the most recent action
	cfg      *config.GraphConfig
	identity config.IdentityConfig
	logger   logging.Logger
	clock    func() time.Time
}

// Option customizes graph construction.
type Option func(*Graph)

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Graph) { g.clock = clock }
}

// New constructs a graph, seeds the protected self entity exactly once and
// loads the persisted snapshot if one exists at cfg.PersistPath.
func New(cfg *config.GraphConfig, identity config.IdentityConfig, logger logging.Logger, opts ...Option) *Graph {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	g := &Graph{
		entities: make(map[string]*EntityNode),
		cfg:      cfg,
		identity: identity,
		logger:   logger,
		clock:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	g.initIdentity()
	if cfg.PersistPath != "" {
		if err := g.load(cfg.PersistPath); err != nil {
			logger.Warn("graph.load.failed", "path", cfg.PersistPath, "error", err.Error())
		}
	}
	return g
}

// initIdentity creates the self entity. It is PROMOTED, confidence 1.0, and
// mutable only by USER_STATED calls for the rest of its life.
func (g *Graph) initIdentity() {
	now := g.clock()
	attrs := make(map[string]string, len(g.identity.Attributes))
	for k, v := range g.identity.Attributes {
		attrs[k] = v
	}
	name := g.identity.Name
	if name == "" {
		name = "User"
	}
	g.entities[SelfID] = &EntityNode{
		ID:             SelfID,
		Type:           TypeSelf,
		Name:           name,
		Attributes:     attrs,
		Lifecycle:      LifecyclePromoted,
		Source:         SourceUserStated,
		Confidence:     1.0,
		CreatedAt:      now,
		LastReferenced: now,
		NotClaims:      append([]string(nil), g.identity.NotClaims...),
		Summary:        selfSummary(name, attrs),
	}
}

func selfSummary(name string, attrs map[string]string) string {
	parts := []string{name}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, attrs[k]))
	}
	return strings.Join(parts, ", ")
}

// Mention describes one observed reference to an entity.
type Mention struct {
	Name       string
	Type       EntityType
	Source     Source
	Attributes map[string]string
}

// RecordMention creates the entity on first mention (EPHEMERAL, or PROMOTED
// when user-stated) or touches the existing one, then applies the lifecycle
// transition rules. It returns the entity id.
func (g *Graph) RecordMention(m Mention) (string, error) {
	if m.Name == "" {
		return "", fmt.Errorf("record mention: empty name")
	}
	if m.Type == TypeSelf {
		// The self entity already exists; a mention of it is only a touch.
		g.mu.Lock()
		defer g.mu.Unlock()
		self := g.entities[SelfID]
		self.Touch(g.clock(), g.cfg.HalfLife, g.cfg.TouchBoost)
		return SelfID, nil
	}

	id := EntityID(m.Type, m.Name)
	now := g.clock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entities[id]; ok {
		e.Touch(now, g.cfg.HalfLife, g.cfg.TouchBoost)
		g.applyLifecycleLocked(e)
		return id, nil
	}

	e := &EntityNode{
		ID:             id,
		Type:           m.Type,
		Name:           m.Name,
		Attributes:     m.Attributes,
		Source:         m.Source,
		CreatedAt:      now,
		LastReferenced: now,
		RefCount:       1,
		Summary:        fmt.Sprintf("%s (%s)", m.Name, m.Type),
	}
	switch m.Source {
	case SourceUserStated:
		e.Lifecycle = LifecyclePromoted
		e.Confidence = 0.9
	case SourceToolObserved:
		e.Lifecycle = LifecycleEphemeral
		e.Confidence = 0.6
	default: // inferred: least trusted
		e.Lifecycle = LifecycleEphemeral
		e.Confidence = 0.3
	}
	g.entities[id] = e
	g.logger.Debug("graph.entity.created", "id", id, "lifecycle", string(e.Lifecycle), "source", string(m.Source))
	return id, nil
}

// UpdateEntity merges attributes into an entity. The self entity accepts
// only USER_STATED mutations; anything else is rejected with
// ErrInvariantViolation and logged with its source.
func (g *Graph) UpdateEntity(id string, updates map[string]string, source Source) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if id == SelfID && source != SourceUserStated {
		g.logger.Warn("graph.identity.blocked", "source", string(source))
		return fmt.Errorf("%w: identity mutation from %s", ErrInvariantViolation, source)
	}
	if e.Attributes == nil {
		e.Attributes = map[string]string{}
	}
	for k, v := range updates {
		e.Attributes[k] = v
	}
	e.LastReferenced = g.clock()
	if id == SelfID {
		e.Summary = selfSummary(e.Name, e.Attributes)
	}
	g.logger.Debug("graph.entity.updated", "id", id, "source", string(source))
	return nil
}

// Confirm records an explicit user confirmation of an entity. The entity is
// re-sourced as USER_STATED, which is the only way an LLM_INFERRED entity
// can reach PROMOTED without corroborating references.
func (g *Graph) Confirm(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	e.Source = SourceUserStated
	e.Lifecycle = LifecyclePromoted
	if e.Confidence < 0.9 {
		e.Confidence = 0.9
	}
	e.LastReferenced = g.clock()
	g.logger.Info("graph.entity.confirmed", "id", id)
	return nil
}

// applyLifecycleLocked advances an entity through the lifecycle state
// machine. LLM_INFERRED entities never jump to PROMOTED on the confidence
// bar alone; they need corroborating references or an explicit Confirm.
func (g *Graph) applyLifecycleLocked(e *EntityNode) {
	if e.ID == SelfID || e.Lifecycle == LifecyclePromoted {
		return
	}
	lc := g.cfg.LifecycleFor(string(e.Type))
	now := g.clock()

	if e.Lifecycle == LifecycleEphemeral && e.RefCount >= lc.CandidateRefs {
		e.Lifecycle = LifecycleCandidate
		g.logger.Debug("graph.entity.candidate", "id", e.ID)
	}
	if e.Lifecycle != LifecycleCandidate {
		return
	}

	byRefs := e.RefCount >= lc.PromoteRefs
	byStatement := e.Source == SourceUserStated
	byConfidence := e.ConfidenceAt(now, g.cfg.HalfLife) >= lc.PromoteConfidence && e.Source != SourceLLMInferred

	if byRefs || byStatement || byConfidence {
		e.Lifecycle = LifecyclePromoted
		g.logger.Info("graph.entity.promoted", "id", e.ID, "refs", e.RefCount)
	}
}

// RecordAction appends a completed tool invocation to the action history.
// The focus entity is a lookup key only. History is trimmed to the
// configured recent window.
func (g *Graph) RecordAction(tool string, args map[string]any, resultSummary string, focus string, status ActionStatus) string {
	const maxSummary = 500
	resultSummary = util.CapBytes(resultSummary, maxSummary)

	g.mu.Lock()
	defer g.mu.Unlock()

	a := ActionNode{
		ID:            "action:" + uuid.NewString(),
		ToolName:      tool,
		Arguments:     args,
		ResultSummary: resultSummary,
		Timestamp:     g.clock(),
		FocusEntity:   focus,
		Status:        status,
	}
	a.EntitiesInvolved = g.involveEntitiesLocked(tool, args)
	g.actions = append(g.actions, a)
	if focus != "" {
		g.focus = focus
	}
	if w := g.cfg.ActionWindow; w > 0 && len(g.actions) > w {
		g.actions = g.actions[len(g.actions)-w:]
	}
	g.logger.Debug("graph.action.recorded", "id", a.ID, "tool", tool, "status", string(status), "focus", focus)
	return a.ID
}

// involveEntitiesLocked records the entities named in tool arguments so
// reference resolution can fall back on them. Mutations here carry the
// TOOL_OBSERVED source.
func (g *Graph) involveEntitiesLocked(tool string, args map[string]any) []string {
	var ids []string
	add := func(t EntityType, name string) {
		id := EntityID(t, name)
		now := g.clock()
		if e, ok := g.entities[id]; ok {
			e.Touch(now, g.cfg.HalfLife, g.cfg.TouchBoost)
			g.applyLifecycleLocked(e)
		} else {
			g.entities[id] = &EntityNode{
				ID:             id,
				Type:           t,
				Name:           name,
				Lifecycle:      LifecycleEphemeral,
				Source:         SourceToolObserved,
				Confidence:     0.6,
				CreatedAt:      now,
				LastReferenced: now,
				RefCount:       1,
				Summary:        fmt.Sprintf("%s (%s)", name, t),
			}
		}
		ids = append(ids, id)
	}
	for key, t := range argEntityKeys {
		if v, ok := args[key].(string); ok && v != "" {
			add(t, v)
		}
	}
	_ = tool
	return ids
}

// argEntityKeys maps well-known tool argument names to entity types.
var argEntityKeys = map[string]EntityType{
	"song":   TypeMedia,
	"track":  TypeMedia,
	"artist": TypePerson,
	"query":  TypeQuery,
	"topic":  TypeTopic,
	"app":    TypeApp,
}

// RunMaintenance performs decay-driven demotion, per-type cap eviction and
// ephemeral TTL garbage collection. It runs off the request path.
func (g *Graph) RunMaintenance() {
	now := g.clock()

	g.mu.Lock()
	defer g.mu.Unlock()

	var evicted, demoted, expired int

	// Demote candidates whose decayed confidence fell below the type bar.
	for _, e := range g.entities {
		if e.ID == SelfID || e.Lifecycle != LifecycleCandidate {
			continue
		}
		lc := g.cfg.LifecycleFor(string(e.Type))
		if e.ConfidenceAt(now, g.cfg.HalfLife) < lc.DemoteConfidence {
			e.Lifecycle = LifecycleEphemeral
			demoted++
		}
	}

	// Garbage-collect ephemeral entities past their TTL.
	for id, e := range g.entities {
		if id == SelfID || e.Lifecycle != LifecycleEphemeral {
			continue
		}
		if g.cfg.EphemeralTTL > 0 && now.Sub(e.LastReferenced) > g.cfg.EphemeralTTL {
			delete(g.entities, id)
			expired++
		}
	}

	// Enforce per-type population caps: stalest CANDIDATE entities go
	// first, then stale ephemerals. PROMOTED entities are exempt.
	byType := map[EntityType][]*EntityNode{}
	for _, e := range g.entities {
		if e.ID == SelfID || e.Lifecycle == LifecyclePromoted {
			continue
		}
		byType[e.Type] = append(byType[e.Type], e)
	}
	for t, list := range byType {
		cap := g.cfg.LifecycleFor(string(t)).Cap
		if cap <= 0 || len(list) <= cap {
			continue
		}
		sort.Slice(list, func(i, j int) bool {
			// Candidates sort before ephemerals only within the same
			// staleness ordering: oldest last-referenced first.
			return list[i].LastReferenced.Before(list[j].LastReferenced)
		})
		for _, e := range list[:len(list)-cap] {
			delete(g.entities, e.ID)
			evicted++
		}
	}

	if demoted+expired+evicted > 0 {
		g.logger.Info("graph.maintenance", "demoted", demoted, "expired", expired, "evicted", evicted)
	}
}

// StartMaintenance runs RunMaintenance (and persistence, when configured)
// on the configured interval until ctx is cancelled. It never blocks
// request-serving goroutines.
func (g *Graph) StartMaintenance(ctx context.Context) {
	interval := g.cfg.MaintenanceInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.RunMaintenance()
				if g.cfg.PersistPath != "" {
					if err := g.Save(); err != nil {
						g.logger.Error("graph.persist.failed", "error", err.Error())
					}
				}
			}
		}
	}()
}

// Entity returns a copy of the entity with the given id.
func (g *Graph) Entity(id string) (EntityNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok {
		return EntityNode{}, false
	}
	return *e.clone(), true
}

// Self returns a copy of the protected self entity.
func (g *Graph) Self() EntityNode {
	e, _ := g.Entity(SelfID)
	return e
}

// Stats reports population counters for observability.
func (g *Graph) Stats() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := map[string]int{"entities": len(g.entities), "actions": len(g.actions)}
	for _, e := range g.entities {
		stats["lifecycle_"+string(e.Lifecycle)]++
	}
	return stats
}
