// Package sakura provides a high-level façade over the assistant core: the
// memory graph, the rate-limited model gateway and the bounded execution
// pipeline. Most applications interact with this package by:
//  1. Creating a Sakura via New() with a model provider and their tools
//  2. Calling Handle() per user request, which always yields exactly one
//     user-safe reply
//  3. Running StartMaintenance() in the background for graph decay, eviction
//     and persistence
//
// The façade delegates orchestration to pipeline.Pipeline while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments supply a YAML config, a durable offload
// store and a structured logger.
package sakura

import (
	"context"
	"fmt"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/guard"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/loop"
	"github.com/chande-dhanush/Sakura/offload"
	"github.com/chande-dhanush/Sakura/pipeline"
	"github.com/chande-dhanush/Sakura/planner"
	"github.com/chande-dhanush/Sakura/router"
	"github.com/chande-dhanush/Sakura/tool"
	"github.com/chande-dhanush/Sakura/verifier"
)

// Version is the library version.
const Version = "0.1.0"

// Options configures a Sakura instance. Every field is optional.
type Options struct {
	// Config overrides the built-in defaults (see config.Default).
	Config *config.Config
	// Backup is tried once when the primary provider fails.
	Backup gateway.Provider
	// Tools are the host's capabilities, dispatched by the execution loop.
	// The retrieve_offloaded tool is added automatically.
	Tools []tool.Tool
	// Offload stores oversized tool output (defaults to in-memory).
	Offload offload.Store
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Sakura aggregates the wired assistant core.
type Sakura struct {
	cfg      *config.Config
	graph    *graph.Graph
	gateway  *gateway.Gateway
	pipeline *pipeline.Pipeline
	offload  offload.Store
	logger   logging.Logger
}

// New wires the full pipeline around the given primary provider.
func New(primary gateway.Provider, opts *Options) (*Sakura, error) {
	if primary == nil {
		return nil, fmt.Errorf("sakura: primary provider is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	var gwOpts []gateway.Option
	if opts.Backup != nil {
		gwOpts = append(gwOpts, gateway.WithBackup(opts.Backup))
	}
	gw := gateway.New(primary, &cfg.Gateway, logger, gwOpts...)

	g := graph.New(&cfg.Graph, cfg.Identity, logger)

	store := opts.Offload
	if store == nil {
		store = offload.NewMemoryStore()
	}

	tools := append([]tool.Tool{}, opts.Tools...)
	tools = append(tools, offload.NewRetrieveTool(store))
	registry, err := tool.NewRegistry(logger, tools...)
	if err != nil {
		return nil, fmt.Errorf("sakura: %w", err)
	}

	pl := planner.New(gw, registry, &cfg.Loop, logger)
	gov := loop.NewGovernor(&cfg.Governor, gw, store, logger)
	lp := loop.New(pl, registry, gov, g, &cfg.Loop, logger)

	pipe := pipeline.New(
		router.New(gw, logger),
		lp,
		verifier.New(gw, &cfg.Verifier, logger),
		guard.New(gw, logger),
		registry, gov, g, &cfg.Loop, logger,
	)

	return &Sakura{
		cfg:      cfg,
		graph:    g,
		gateway:  gw,
		pipeline: pipe,
		offload:  store,
		logger:   logger,
	}, nil
}

// Handle processes one user request end to end and always returns a reply.
func (s *Sakura) Handle(ctx context.Context, query string) pipeline.Reply {
	return s.pipeline.Handle(ctx, query)
}

// Graph exposes the memory graph for hosts that record their own mentions
// (e.g. explicit user-stated facts) or need stats.
func (s *Sakura) Graph() *graph.Graph { return s.graph }

// Gateway exposes the model gateway for direct host invocations.
func (s *Sakura) Gateway() *gateway.Gateway { return s.gateway }

// StartMaintenance runs graph decay, eviction and persistence on the
// configured interval until ctx is cancelled.
func (s *Sakura) StartMaintenance(ctx context.Context) {
	s.graph.StartMaintenance(ctx)
}

// Close persists the graph one last time and releases the offload store.
func (s *Sakura) Close() error {
	if err := s.graph.Save(); err != nil {
		s.logger.Warn("sakura.close.save_failed", "error", err.Error())
	}
	return s.offload.Close()
}
