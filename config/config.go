// Package config defines the recognized configuration surface of the
// assistant core and loads it from YAML. Every tunable named here has a
// conservative default so a zero-config embedding still behaves sanely.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BucketConfig configures one token bucket of the model gateway.
type BucketConfig struct {
	// Capacity is the maximum burst size of the bucket.
	Capacity float64 `yaml:"capacity"`
	// RefillPerSec is the steady-state refill rate in tokens per second.
	RefillPerSec float64 `yaml:"refill_per_sec"`
	// MaxWait bounds how long an acquire may block before the call is
	// rejected with a rate limit error.
	MaxWait time.Duration `yaml:"max_wait"`
}

// GatewayConfig configures the rate-limited model gateway.
type GatewayConfig struct {
	// Buckets maps a gateway role (router, planner, verifier, responder,
	// summarizer) to its token bucket parameters. Unknown roles fall back
	// to Default.
	Buckets map[string]BucketConfig `yaml:"buckets"`
	// Default is used for roles without an explicit bucket.
	Default BucketConfig `yaml:"default"`
	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LifecycleConfig holds the promotion/demotion thresholds for one entity type.
type LifecycleConfig struct {
	// CandidateRefs promotes EPHEMERAL to CANDIDATE at this reference count.
	CandidateRefs int `yaml:"candidate_refs"`
	// PromoteRefs promotes CANDIDATE to PROMOTED at this reference count.
	PromoteRefs int `yaml:"promote_refs"`
	// PromoteConfidence promotes CANDIDATE to PROMOTED when decayed
	// confidence clears this bar (never for inferred entities).
	PromoteConfidence float64 `yaml:"promote_confidence"`
	// DemoteConfidence demotes CANDIDATE back to EPHEMERAL below this bar.
	DemoteConfidence float64 `yaml:"demote_confidence"`
	// Cap is the per-type population cap; stalest CANDIDATE entities are
	// evicted first when exceeded. PROMOTED entities are exempt.
	Cap int `yaml:"cap"`
}

// GraphConfig configures the memory graph.
type GraphConfig struct {
	// HalfLife is the exponential decay half-life for entity confidence.
	HalfLife time.Duration `yaml:"half_life"`
	// TouchBoost is the fixed confidence boost applied on reference.
	TouchBoost float64 `yaml:"touch_boost"`
	// EphemeralTTL garbage-collects unreferenced EPHEMERAL entities.
	EphemeralTTL time.Duration `yaml:"ephemeral_ttl"`
	// ActionWindow caps how many recent actions are retained for context.
	ActionWindow int `yaml:"action_window"`
	// Lifecycle holds per entity type thresholds; missing types use
	// DefaultLifecycle.
	Lifecycle map[string]LifecycleConfig `yaml:"lifecycle"`
	// DefaultLifecycle applies to types without an explicit entry.
	DefaultLifecycle LifecycleConfig `yaml:"default_lifecycle"`
	// PersistPath is the on-disk snapshot location; empty disables
	// persistence.
	PersistPath string `yaml:"persist_path"`
	// MaintenanceInterval schedules background decay/eviction/persistence.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// LoopConfig configures the bounded execution loop.
type LoopConfig struct {
	// MaxIterations is the hard cap on plan/execute/observe cycles.
	MaxIterations int `yaml:"max_iterations"`
	// WallBudget is the total wall-clock budget for one request's loop.
	WallBudget time.Duration `yaml:"wall_budget"`
	// IterationTimeout bounds a single planner call.
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
	// HistoryWindow is the number of recent tool records fed back to the
	// planner (last K only, to cap context growth).
	HistoryWindow int `yaml:"history_window"`
	// MaxStepsPerPlan caps the steps accepted from one planner proposal.
	MaxStepsPerPlan int `yaml:"max_steps_per_plan"`
}

// GovernorConfig configures the output governor size thresholds, in bytes.
type GovernorConfig struct {
	// TruncateAt is the pass-through ceiling; larger results are truncated
	// structure-aware.
	TruncateAt int `yaml:"truncate_at"`
	// SummarizeAt switches from truncation to a cheap summarization call.
	SummarizeAt int `yaml:"summarize_at"`
	// OffloadAt hands the result to the offload collaborator and
	// substitutes an opaque handle.
	OffloadAt int `yaml:"offload_at"`
}

// VerifierConfig configures goal verification.
type VerifierConfig struct {
	// Timeout bounds the verifier model call; on expiry the verdict
	// defaults to PASS.
	Timeout time.Duration `yaml:"timeout"`
}

// IdentityConfig seeds the protected self entity.
type IdentityConfig struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
	// NotClaims are negative constraints the response guard enforces,
	// e.g. "NOT a public figure".
	NotClaims []string `yaml:"not_claims"`
}

// Config is the root configuration document.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Graph    GraphConfig    `yaml:"graph"`
	Loop     LoopConfig     `yaml:"loop"`
	Governor GovernorConfig `yaml:"governor"`
	Verifier VerifierConfig `yaml:"verifier"`
	Identity IdentityConfig `yaml:"identity"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Buckets: map[string]BucketConfig{
				"router":     {Capacity: 5, RefillPerSec: 0.5, MaxWait: 10 * time.Second},
				"planner":    {Capacity: 5, RefillPerSec: 0.5, MaxWait: 10 * time.Second},
				"verifier":   {Capacity: 3, RefillPerSec: 0.25, MaxWait: 5 * time.Second},
				"responder":  {Capacity: 5, RefillPerSec: 0.5, MaxWait: 10 * time.Second},
				"summarizer": {Capacity: 3, RefillPerSec: 0.25, MaxWait: 5 * time.Second},
			},
			Default:     BucketConfig{Capacity: 2, RefillPerSec: 0.1, MaxWait: 5 * time.Second},
			CallTimeout: 60 * time.Second,
		},
		Graph: GraphConfig{
			HalfLife:     30 * 24 * time.Hour,
			TouchBoost:   0.1,
			EphemeralTTL: time.Hour,
			ActionWindow: 100,
			Lifecycle: map[string]LifecycleConfig{
				"query": {CandidateRefs: 3, PromoteRefs: 5, PromoteConfidence: 0.85, DemoteConfidence: 0.2, Cap: 200},
				"media": {CandidateRefs: 3, PromoteRefs: 5, PromoteConfidence: 0.85, DemoteConfidence: 0.2, Cap: 150},
				"app":   {CandidateRefs: 2, PromoteRefs: 4, PromoteConfidence: 0.85, DemoteConfidence: 0.2, Cap: 100},
				"topic": {CandidateRefs: 3, PromoteRefs: 5, PromoteConfidence: 0.85, DemoteConfidence: 0.2, Cap: 150},
			},
			DefaultLifecycle:    LifecycleConfig{CandidateRefs: 3, PromoteRefs: 5, PromoteConfidence: 0.9, DemoteConfidence: 0.2, Cap: 100},
			MaintenanceInterval: 5 * time.Minute,
		},
		Loop: LoopConfig{
			MaxIterations:    5,
			WallBudget:       90 * time.Second,
			IterationTimeout: 20 * time.Second,
			HistoryWindow:    5,
			MaxStepsPerPlan:  3,
		},
		Governor: GovernorConfig{
			TruncateAt:  1000,
			SummarizeAt: 2000,
			OffloadAt:   8000,
		},
		Verifier: VerifierConfig{Timeout: 15 * time.Second},
		Identity: IdentityConfig{
			Name:       "User",
			Attributes: map[string]string{},
		},
	}
}

// Load reads a YAML file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LifecycleFor returns the thresholds for the given entity type.
func (g *GraphConfig) LifecycleFor(entityType string) LifecycleConfig {
	if lc, ok := g.Lifecycle[entityType]; ok {
		return lc
	}
	return g.DefaultLifecycle
}
