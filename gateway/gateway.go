// Package gateway routes all model traffic through per-(provider, role)
// token buckets with a primary/backup failover path. It is the only place
// the assistant talks to a model provider, and bucket state is the only
// truly global mutable state in the core.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/logging"
)

// ErrRateLimitExceeded is returned when a bucket cannot grant a token within
// its bounded wait.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrModelUnavailable is returned when both the primary and backup providers
// failed for one invocation.
var ErrModelUnavailable = errors.New("model unavailable")

// Roles a caller may invoke the gateway under. Each role has its own bucket
// so a chatty planner cannot starve the verifier.
const (
	RoleRouter     = "router"
	RolePlanner    = "planner"
	RoleVerifier   = "verifier"
	RoleResponder  = "responder"
	RoleSummarizer = "summarizer"
)

// Gateway multiplexes invocations over a primary and optional backup
// provider, rate limited per (provider, role).
type Gateway struct {
	primary Provider
	backup  Provider
	cfg     *config.GatewayConfig
	buckets *bucketSet
	logger  logging.Logger
	clock   func() time.Time
}

// Option customizes gateway construction.
type Option func(*Gateway)

// WithBackup installs a backup provider tried once after a primary failure.
func WithBackup(p Provider) Option {
	return func(g *Gateway) { g.backup = p }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) { g.clock = clock }
}

// New constructs a gateway over the given primary provider.
func New(primary Provider, cfg *config.GatewayConfig, logger logging.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	g := &Gateway{
		primary: primary,
		cfg:     cfg,
		logger:  logger,
		clock:   time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	g.buckets = newBucketSet(cfg, g.clock)
	return g
}

// Invoke sends one request under the given role. It blocks (bounded) on the
// provider's bucket, calls the primary under the configured call timeout and
// retries exactly once against the backup before giving up with
// ErrModelUnavailable. A rate-limit rejection surfaces as-is: the caller hit
// its own quota, and the backup would not change that verdict.
func (g *Gateway) Invoke(ctx context.Context, role string, req Request) (string, error) {
	text, err := g.invokeOne(ctx, g.primary, role, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		return "", err
	}
	if g.backup == nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	g.logger.Warn("gateway.failover", "role", role, "primary", g.primary.Info().Provider, "error", err.Error())

	text, berr := g.invokeOne(ctx, g.backup, role, req)
	if berr == nil {
		return text, nil
	}
	return "", fmt.Errorf("%w: primary: %v; backup: %v", ErrModelUnavailable, err, berr)
}

func (g *Gateway) invokeOne(ctx context.Context, p Provider, role string, req Request) (string, error) {
	bucket := g.buckets.bucketFor(p.Info().Provider, role)
	if err := bucket.Acquire(ctx); err != nil {
		return "", err
	}

	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	start := g.clock()
	text, err := p.Complete(callCtx, req)
	dur := g.clock().Sub(start)
	if err != nil {
		g.logger.Warn("gateway.call.failed", "provider", p.Info().Provider, "role", role, "duration", dur.String(), "error", err.Error())
		return "", fmt.Errorf("%s call: %w", p.Info().Provider, err)
	}
	g.logger.Debug("gateway.call.ok", "provider", p.Info().Provider, "role", role, "duration", dur.String())
	return text, nil
}
