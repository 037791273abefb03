// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/resilience"
	"github.com/helixbio/triage/pkg/telemetry"
)

// Gateway is the single choke point between agents and external tools.
// Every invocation is validated, cached when permitted, rate-limited per
// provider, and retried within a bounded budget.
type Gateway struct {
	registry    *Registry
	cache       *resultCache
	limits      *limiterSet
	retry       resilience.RetryConfig
	maxWait     time.Duration
	callTimeout time.Duration
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	flight      singleflight.Group
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCacheTTL sets how long cacheable results are reused. Zero disables
// caching entirely.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) { g.cache = newResultCache(ttl) }
}

// WithLimits sets the per-provider sliding-window budgets.
func WithLimits(limits map[string]Limit) Option {
	return func(g *Gateway) { g.limits = newLimiterSet(limits) }
}

// WithMaxWait bounds how long an invocation may queue for rate-limit
// admission before failing.
func WithMaxWait(d time.Duration) Option {
	return func(g *Gateway) { g.maxWait = d }
}

// WithRetry replaces the retry budget for provider calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = rc }
}

// WithCallTimeout bounds each provider attempt; a timed-out attempt is
// retried within the retry budget. Zero disables the per-attempt bound.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.callTimeout = d }
}

// WithMetrics attaches a metrics instance.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway over a populated registry.
func New(registry *Registry, opts ...Option) *Gateway {
	g := &Gateway{
		registry:    registry,
		cache:       newResultCache(15 * time.Minute),
		limits:      newLimiterSet(nil),
		retry:       resilience.DefaultRetryConfig(),
		maxWait:     30 * time.Second,
		callTimeout: time.Minute,
		logger:      slog.Default(),
		tracer:      otel.Tracer("triage.gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Descriptors exposes the registered tool set, sorted by name.
func (g *Gateway) Descriptors() []*Descriptor {
	return g.registry.Descriptors()
}

// Has reports whether a tool name is registered.
func (g *Gateway) Has(name string) bool {
	_, _, ok := g.registry.Lookup(name)
	return ok
}

// SetLimit replaces one provider's rate budget at runtime.
func (g *Gateway) SetLimit(provider string, lim Limit) {
	g.limits.setLimit(provider, lim)
}

// Invoke validates and executes one tool call. Identical cacheable calls
// within the TTL are served from cache and deduplicated in flight, so a
// burst of equal requests reaches the provider at most once.
func (g *Gateway) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway.invoke")
	defer span.End()

	desc, provider, ok := g.registry.Lookup(tool)
	if !ok {
		err := errors.New(errors.CodeInvalidToolCall, "tool is not registered", nil).
			WithContext("tool", tool)
		span.SetStatus(codes.Error, err.Error())
		g.metrics.RecordError(ctx, string(errors.CodeInvalidToolCall), "gateway")
		return nil, err
	}
	if err := desc.validateArgs(args); err != nil {
		terr := errors.New(errors.CodeInvalidToolCall, "tool arguments failed schema validation", err).
			WithContext("tool", tool)
		span.SetStatus(codes.Error, terr.Error())
		g.metrics.RecordError(ctx, string(errors.CodeInvalidToolCall), "gateway")
		return nil, terr
	}

	key, err := cacheKey(tool, args)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidToolCall, "tool arguments are not serializable", err).
			WithContext("tool", tool)
	}

	cacheHit := false
	var result any
	if desc.Cacheable {
		if v, hit := g.cache.get(key); hit {
			cacheHit = true
			result = v
			g.metrics.RecordCacheHit(ctx, tool)
		} else {
			g.metrics.RecordCacheMiss(ctx, tool)
		}
	}

	if !cacheHit {
		var v any
		var callErr error
		if desc.Cacheable {
			// Deduplicate concurrent identical calls: only the first
			// reaches the provider, the rest share its result.
			v, callErr, _ = g.flight.Do(key, func() (any, error) {
				return g.callProvider(ctx, desc, provider, args)
			})
		} else {
			v, callErr = g.callProvider(ctx, desc, provider, args)
		}
		if callErr != nil {
			span.SetStatus(codes.Error, callErr.Error())
			span.SetAttributes(telemetry.ToolCallAttributes(tool, desc.Provider,
				float64(time.Since(start).Milliseconds()), false, false)...)
			g.metrics.RecordError(ctx, string(errors.CodeOf(callErr)), "gateway")
			return nil, callErr
		}
		result = v
		if desc.Cacheable {
			g.cache.set(key, v)
		}
	}

	elapsed := float64(time.Since(start).Milliseconds())
	span.SetAttributes(telemetry.ToolCallAttributes(tool, desc.Provider, elapsed, cacheHit, true)...)
	g.metrics.RecordToolLatency(ctx, tool, elapsed)
	g.logger.DebugContext(ctx, "tool invocation completed",
		"tool", tool,
		"provider", desc.Provider,
		"cache_hit", cacheHit,
		"duration_ms", elapsed,
	)
	return result, nil
}

// callProvider acquires rate-limit admission and runs the provider call
// under the retry budget.
func (g *Gateway) callProvider(ctx context.Context, desc *Descriptor, provider Provider, args map[string]any) (any, error) {
	if limiter := g.limits.forProvider(desc.Provider); limiter != nil {
		waited, err := limiter.acquire(ctx, g.maxWait)
		g.metrics.RecordRateLimitWait(ctx, desc.Provider, float64(waited.Milliseconds()))
		if err != nil {
			return nil, errors.AsTriageError(err).WithContext("tool", desc.Name)
		}
		if waited > 0 {
			g.logger.DebugContext(ctx, "waited for rate-limit admission",
				"provider", desc.Provider, "waited_ms", waited.Milliseconds())
		}
	}

	g.metrics.RecordProviderCall(ctx, desc.Provider)
	attemptTimeout := resilience.TimeoutConfig{Duration: g.callTimeout}
	result, err := g.retry.DoWithResult(ctx, func() (interface{}, error) {
		return resilience.WithTimeoutResult(ctx, attemptTimeout, func(ctx context.Context) (interface{}, error) {
			return provider.Call(ctx, desc.Name, args)
		})
	})
	if err != nil {
		if te, ok := err.(*errors.TriageError); ok && te.Code == errors.CodeTimeout {
			return nil, te.WithContext("tool", desc.Name)
		}
		return nil, errors.New(errors.CodeProviderError, "provider call failed after retries", err).
			WithContext("tool", desc.Name).
			WithContext("provider", desc.Provider)
	}
	return result, nil
}
