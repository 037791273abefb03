// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments shared by the gateway, the reasoning
// loops, and the orchestrator. A single instance is created at startup and
// injected where needed; a nil *Metrics is safe and records nothing.
type Metrics struct {
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	providerCalls   metric.Int64Counter
	rateLimitWaitMs metric.Float64Histogram
	toolLatencyMs   metric.Float64Histogram
	llmLatencyMs    metric.Float64Histogram
	agentSteps      metric.Int64Histogram
	runErrors       metric.Int64Counter
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// InitMetrics creates the global Metrics instance. Initialization failures
// degrade gracefully to a nil instance.
func InitMetrics() *Metrics {
	globalMetricsOnce.Do(func() {
		m, err := NewMetrics()
		if err != nil {
			return
		}
		globalMetrics = m
	})
	return globalMetrics
}

// GetMetrics returns the global Metrics, possibly nil.
func GetMetrics() *Metrics { return globalMetrics }

// NewMetrics registers the Triage instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("triage")

	cacheHits, err := meter.Int64Counter("triage.gateway.cache_hits",
		metric.WithDescription("Tool gateway cache hits by tool"))
	if err != nil {
		return nil, err
	}
	cacheMisses, err := meter.Int64Counter("triage.gateway.cache_misses",
		metric.WithDescription("Tool gateway cache misses by tool"))
	if err != nil {
		return nil, err
	}
	providerCalls, err := meter.Int64Counter("triage.gateway.provider_calls",
		metric.WithDescription("Underlying provider requests by provider"))
	if err != nil {
		return nil, err
	}
	rateLimitWaitMs, err := meter.Float64Histogram("triage.gateway.ratelimit_wait_ms",
		metric.WithDescription("Time spent waiting for rate-limit admission"))
	if err != nil {
		return nil, err
	}
	toolLatencyMs, err := meter.Float64Histogram("triage.tool.latency_ms",
		metric.WithDescription("Gateway invocation latency by tool"))
	if err != nil {
		return nil, err
	}
	llmLatencyMs, err := meter.Float64Histogram("triage.llm.latency_ms",
		metric.WithDescription("Reasoning-model call latency"))
	if err != nil {
		return nil, err
	}
	agentSteps, err := meter.Int64Histogram("triage.agent.steps",
		metric.WithDescription("Steps taken per reasoning-loop run"))
	if err != nil {
		return nil, err
	}
	runErrors, err := meter.Int64Counter("triage.run.errors",
		metric.WithDescription("Errors by code and component"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		providerCalls:   providerCalls,
		rateLimitWaitMs: rateLimitWaitMs,
		toolLatencyMs:   toolLatencyMs,
		llmLatencyMs:    llmLatencyMs,
		agentSteps:      agentSteps,
		runErrors:       runErrors,
	}, nil
}

// RecordCacheHit increments the cache hit counter for a tool.
func (m *Metrics) RecordCacheHit(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolName, tool)))
}

// RecordCacheMiss increments the cache miss counter for a tool.
func (m *Metrics) RecordCacheMiss(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolName, tool)))
}

// RecordProviderCall counts one underlying provider request.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolProvider, provider)))
}

// RecordRateLimitWait records how long a caller waited for admission.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, provider string, waitMs float64) {
	if m == nil {
		return
	}
	m.rateLimitWaitMs.Record(ctx, waitMs, metric.WithAttributes(attribute.String(AttrToolProvider, provider)))
}

// RecordToolLatency records one gateway invocation latency.
func (m *Metrics) RecordToolLatency(ctx context.Context, tool string, ms float64) {
	if m == nil {
		return
	}
	m.toolLatencyMs.Record(ctx, ms, metric.WithAttributes(attribute.String(AttrToolName, tool)))
}

// RecordLLMLatency records one reasoning-model call latency.
func (m *Metrics) RecordLLMLatency(ctx context.Context, model string, ms float64) {
	if m == nil {
		return
	}
	m.llmLatencyMs.Record(ctx, ms, metric.WithAttributes(attribute.String(AttrLLMModel, model)))
}

// RecordAgentSteps records the step count of a completed loop run.
func (m *Metrics) RecordAgentSteps(ctx context.Context, role string, steps int) {
	if m == nil {
		return
	}
	m.agentSteps.Record(ctx, int64(steps), metric.WithAttributes(attribute.String(AttrAgentRole, role)))
}

// RecordError counts an error by code and component.
func (m *Metrics) RecordError(ctx context.Context, code, component string) {
	if m == nil {
		return
	}
	m.runErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
	))
}
