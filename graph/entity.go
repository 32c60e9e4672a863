// Package graph implements the memory graph: a lifecycle-managed entity and
// action store with identity protection, confidence decay and reference
// resolution. It is the single source of truth the rest of the pipeline
// reads through request-scoped snapshots.
package graph

import (
	"math"
	"strings"
	"time"
)

// EntityType classifies what kind of thing an entity represents.
type EntityType string

// The closed set of entity types.
const (
	TypeSelf       EntityType = "self"
	TypePerson     EntityType = "person"
	TypePreference EntityType = "preference"
	TypeTopic      EntityType = "topic"
	TypeMedia      EntityType = "media"
	TypeApp        EntityType = "app"
	TypeQuery      EntityType = "query"
	TypeExternal   EntityType = "external"
)

// Lifecycle is the trust stage of an entity.
type Lifecycle string

// Lifecycle stages, least to most trusted.
const (
	LifecycleEphemeral Lifecycle = "ephemeral"
	LifecycleCandidate Lifecycle = "candidate"
	LifecyclePromoted  Lifecycle = "promoted"
)

// Source records who or what produced a mutation.
type Source string

// Mutation sources. USER_STATED is the only source allowed to touch the
// protected self entity.
const (
	SourceUserStated   Source = "user_stated"
	SourceLLMInferred  Source = "llm_inferred"
	SourceToolObserved Source = "tool_observed"
)

// ConfidenceFloor is the lower bound decay can never cross.
const ConfidenceFloor = 0.1

// SelfID is the identifier of the protected self entity. Exactly one entity
// carries it and it is created once, at graph construction.
const SelfID = "entity:self"

// EntityNode is a thing that exists: the user, a preference, a song, a
// search query. Confidence is derived; the stored value is the base at
// LastReferenced and decays on read.
type EntityNode struct {
	ID             string            `json:"id"`
	Type           EntityType        `json:"type"`
	Name           string            `json:"name"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Lifecycle      Lifecycle         `json:"lifecycle"`
	Source         Source            `json:"source"`
	Confidence     float64           `json:"confidence"`
	RefCount       int               `json:"ref_count"`
	CreatedAt      time.Time         `json:"created_at"`
	LastReferenced time.Time         `json:"last_referenced"`
	NotClaims      []string          `json:"not_claims,omitempty"`
	Summary        string            `json:"summary,omitempty"`
}

// ConfidenceAt returns the decayed confidence at now:
// max(floor, base * 0.5^(elapsed/halfLife)).
func (e *EntityNode) ConfidenceAt(now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return clampConfidence(e.Confidence)
	}
	elapsed := now.Sub(e.LastReferenced)
	if elapsed <= 0 {
		return clampConfidence(e.Confidence)
	}
	decayed := e.Confidence * math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
	return clampConfidence(decayed)
}

// Touch marks the entity as referenced: decays confidence to now, applies
// the fixed boost capped at 1.0, resets last-referenced and bumps the
// reference count.
func (e *EntityNode) Touch(now time.Time, halfLife time.Duration, boost float64) {
	c := e.ConfidenceAt(now, halfLife) + boost
	if c > 1.0 {
		c = 1.0
	}
	e.Confidence = c
	e.LastReferenced = now
	e.RefCount++
}

// clone returns a deep copy safe for snapshot use.
func (e *EntityNode) clone() *EntityNode {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	cp.NotClaims = append([]string(nil), e.NotClaims...)
	return &cp
}

func clampConfidence(c float64) float64 {
	if c < ConfidenceFloor {
		return ConfidenceFloor
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}

// EntityID derives the deterministic identifier for a named entity.
func EntityID(t EntityType, name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "_")
	return "entity:" + string(t) + ":" + slug
}
