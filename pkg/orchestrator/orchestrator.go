// SPDX-License-Identifier: Apache-2.0
// Package orchestrator is the entry point of a triage run: it resolves the
// compound, fans out to the leaf agents in parallel, hands both results to
// the coordinator, and records the run.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/helixbio/triage/pkg/agents"
	"github.com/helixbio/triage/pkg/core"
	"github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/litl"
	"github.com/helixbio/triage/pkg/react"
	"github.com/helixbio/triage/pkg/telemetry"
)

// Orchestrator runs the compound prioritization pipeline end to end.
type Orchestrator struct {
	efficacy    *react.Loop
	toxicity    *react.Loop
	coordinator *agents.Coordinator
	resolver    Resolver
	store       *litl.Store
	emitter     core.EventEmitter
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResolver replaces the compound resolver.
func WithResolver(r Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithStore records completed runs to the lab-in-the-loop store.
func WithStore(s *litl.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithEmitter attaches a semantic event sink.
func WithEmitter(e core.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithTimeout bounds one full prioritization run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics attaches a metrics instance.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New assembles the pipeline. A nil resolver accepts every non-empty name.
func New(efficacy, toxicity *react.Loop, coordinator *agents.Coordinator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		efficacy:    efficacy,
		toxicity:    toxicity,
		coordinator: coordinator,
		emitter:     core.NoopEventEmitter{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("triage.orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Prioritize runs the full pipeline for one compound. Both leaf agents must
// produce a result; a single unrecoverable leaf failure aborts the run with
// PARTIAL_AGENT_FAILURE rather than judging on half the evidence.
func (o *Orchestrator) Prioritize(ctx context.Context, compound string) (*core.CompositeResult, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	ctx, runID := core.EnsureRunID(ctx)
	ctx = core.WithCompound(ctx, compound)
	ctx, span := o.tracer.Start(ctx, "orchestrator.prioritize",
		trace.WithAttributes(
			attribute.String(telemetry.AttrAgentRunID, runID),
			attribute.String(telemetry.AttrCompound, compound),
		))
	defer span.End()
	start := time.Now()

	name := compound
	if o.resolver != nil {
		resolved, err := o.resolver.Resolve(ctx, compound)
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			o.metrics.RecordError(ctx, string(errors.CodeOf(err)), "orchestrator")
			return nil, err
		}
		name = resolved
	}

	o.emitter.Emit(ctx, core.NewEvent(core.EventRunStarted, "orchestrator", runID, map[string]any{
		"compound": name,
	}))
	o.logger.InfoContext(ctx, "prioritization run started", "compound", name, "run_id", runID)

	var effResult, toxResult *core.LeafResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := o.efficacy.Run(gctx, name)
		if err != nil {
			return leafFailure(agents.RoleEfficacy, err)
		}
		effResult = res
		return nil
	})
	g.Go(func() error {
		res, err := o.toxicity.Run(gctx, name)
		if err != nil {
			return leafFailure(agents.RoleToxicity, err)
		}
		toxResult = res
		return nil
	})
	if err := g.Wait(); err != nil {
		// A dead run context means the failure is the deadline or the
		// caller hanging up, not the agent that happened to surface it.
		if ctx.Err() != nil {
			err = errors.New(errors.CodeTimeout, "prioritization run canceled or exceeded its time budget", err).
				WithContext("compound", name)
		}
		o.failRun(ctx, span, runID, name, err)
		return nil, err
	}

	verdict, err := o.coordinator.Judge(ctx, name, effResult, toxResult)
	if err != nil {
		o.failRun(ctx, span, runID, name, err)
		return nil, err
	}

	o.record(ctx, runID, name, verdict)

	elapsed := time.Since(start)
	o.emitter.Emit(ctx, core.NewEvent(core.EventRunCompleted, "orchestrator", runID, map[string]any{
		"compound":    name,
		"priority":    verdict.PriorityScore,
		"duration_ms": elapsed.Milliseconds(),
	}))
	o.logger.InfoContext(ctx, "prioritization run completed",
		"compound", name,
		"run_id", runID,
		"priority", verdict.PriorityScore,
		"confidence", verdict.Confidence,
		"duration_ms", elapsed.Milliseconds(),
	)
	span.SetStatus(otelcodes.Ok, "")
	return verdict, nil
}

// record persists the run best-effort: a storage failure must not void a
// verdict that was already produced.
func (o *Orchestrator) record(ctx context.Context, runID, compound string, verdict *core.CompositeResult) {
	if o.store == nil {
		return
	}
	if err := o.store.RecordLeafRun(ctx, runID, compound, verdict.Efficacy); err != nil {
		o.logger.WarnContext(ctx, "failed to record efficacy run", "error", err)
	}
	if err := o.store.RecordLeafRun(ctx, runID, compound, verdict.Toxicity); err != nil {
		o.logger.WarnContext(ctx, "failed to record toxicity run", "error", err)
	}
	if err := o.store.RecordVerdict(ctx, runID, verdict); err != nil {
		o.logger.WarnContext(ctx, "failed to record verdict", "error", err)
	}
}

func (o *Orchestrator) failRun(ctx context.Context, span trace.Span, runID, compound string, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
	o.metrics.RecordError(ctx, string(errors.CodeOf(err)), "orchestrator")
	o.emitter.Emit(ctx, core.NewEvent(core.EventAgentError, "orchestrator", runID, map[string]any{
		"compound": compound,
		"error":    err.Error(),
	}))
	o.logger.ErrorContext(ctx, "prioritization run failed",
		"compound", compound, "run_id", runID, "error", err)
}

func leafFailure(role string, err error) error {
	return errors.New(errors.CodePartialAgentFailure, "leaf agent failed", err).
		WithContext("agent", role)
}
