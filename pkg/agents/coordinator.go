// SPDX-License-Identifier: Apache-2.0
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixbio/triage/pkg/core"
	"github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/llm"
	"github.com/helixbio/triage/pkg/react"
	"github.com/helixbio/triage/pkg/resilience"
	"github.com/helixbio/triage/pkg/telemetry"
)

const coordinatorPrompt = `You are the triage coordinator for a drug-candidate
pipeline. Two specialist agents have assessed a compound. Fuse their findings
into a single prioritization verdict.

Efficacy is scored in [0, 1] (0 = no fibrosis phenotype reversal, 1 = complete).
Toxicity is reported as percent cell viability in [0, 100] (100 = non-toxic).
A compound is only worth advancing when it is both effective and tolerable;
high efficacy cannot compensate for severe toxicity. Weigh each agent's
confidence, and discount degraded assessments.

Reply with ONLY a JSON object: {"score": <priority in [0,1]>, "confidence": <number in [0,1]>, "reasoning": "<text>"}.`

// Coordinator fuses the two leaf results into one composite priority. It is
// a single-turn judge with no tool access.
type Coordinator struct {
	provider llm.Provider
	model    string
	retry    resilience.RetryConfig
	emitter  core.EventEmitter
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorRetry replaces the retry budget for the verdict call.
func WithCoordinatorRetry(rc resilience.RetryConfig) CoordinatorOption {
	return func(c *Coordinator) { c.retry = rc }
}

// WithCoordinatorEmitter attaches a semantic event sink.
func WithCoordinatorEmitter(e core.EventEmitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = e }
}

// WithCoordinatorLogger replaces the default logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCoordinatorMetrics attaches a metrics instance.
func WithCoordinatorMetrics(m *telemetry.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates the coordinator over a provider and model.
func NewCoordinator(provider llm.Provider, model string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		provider: provider,
		model:    model,
		retry:    resilience.DefaultRetryConfig().WithMaxAttempts(2),
		emitter:  core.NoopEventEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("triage.coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Judge produces the composite verdict for one compound. Both leaf results
// must be present and well-formed; partial input is rejected rather than
// silently judged on half the evidence.
func (c *Coordinator) Judge(ctx context.Context, compound string, efficacy, toxicity *core.LeafResult) (*core.CompositeResult, error) {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := c.tracer.Start(ctx, "coordinator.judge")
	defer span.End()

	if err := validateLeaf(efficacy, RoleEfficacy); err != nil {
		return nil, err
	}
	if err := validateLeaf(toxicity, RoleToxicity); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := c.retry.DoWithResult(ctx, func() (interface{}, error) {
		return c.provider.Chat(ctx, llm.ChatRequest{
			Model: c.model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: coordinatorPrompt},
				{Role: llm.RoleUser, Content: verdictInput(compound, efficacy, toxicity)},
			},
		})
	})
	elapsed := float64(time.Since(start).Milliseconds())
	c.metrics.RecordLLMLatency(ctx, c.model, elapsed)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, errors.New(errors.CodeLLMError, "coordinator verdict call failed", err).
			WithContext("compound", compound)
	}
	resp := out.(*llm.ChatResponse)
	span.SetAttributes(telemetry.LLMAttributes(c.model, resp.Usage.PromptTokens,
		resp.Usage.CompletionTokens, 0, elapsed)...)

	answer, perr := react.ParseAnswer(resp.Content)
	if perr != nil {
		// One re-prompt restating the format, then give up.
		answer, perr = c.reprompt(ctx, compound, efficacy, toxicity, resp.Content)
		if perr != nil {
			span.SetStatus(otelcodes.Error, perr.Error())
			return nil, errors.AsTriageError(perr).WithContext("agent", RoleCoordinator)
		}
	}
	priority := answer.Score
	if !core.ConfidenceDomain.Contains(priority) {
		c.logger.WarnContext(ctx, "priority outside [0,1], clamping", "priority", priority)
		c.metrics.RecordError(ctx, string(errors.CodeOutOfRangeResult), "coordinator")
		priority = core.ConfidenceDomain.Clamp(priority)
	}

	result := &core.CompositeResult{
		Compound:      compound,
		PriorityScore: priority,
		Confidence:    core.ConfidenceDomain.Clamp(answer.Confidence),
		Reasoning:     answer.Reasoning,
		Efficacy:      efficacy,
		Toxicity:      toxicity,
	}
	c.emitter.Emit(ctx, core.NewEvent(core.EventCoordinatorJudged, RoleCoordinator, runID, map[string]any{
		"compound":   compound,
		"priority":   result.PriorityScore,
		"confidence": result.Confidence,
	}))
	span.SetStatus(otelcodes.Ok, "")
	return result, nil
}

const coordinatorReprompt = `Your reply was not parseable. Reply again with ONLY a JSON object of the form {"score": <priority in [0,1]>, "confidence": <number in [0,1]>, "reasoning": "<text>"} and nothing else.`

func (c *Coordinator) reprompt(ctx context.Context, compound string, efficacy, toxicity *core.LeafResult, previous string) (react.Answer, error) {
	out, err := c.retry.DoWithResult(ctx, func() (interface{}, error) {
		return c.provider.Chat(ctx, llm.ChatRequest{
			Model: c.model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: coordinatorPrompt},
				{Role: llm.RoleUser, Content: verdictInput(compound, efficacy, toxicity)},
				{Role: llm.RoleAssistant, Content: previous},
				{Role: llm.RoleUser, Content: coordinatorReprompt},
			},
		})
	})
	if err != nil {
		return react.Answer{}, errors.New(errors.CodeLLMError, "coordinator re-prompt failed", err).
			WithContext("compound", compound)
	}
	return react.ParseAnswer(out.(*llm.ChatResponse).Content)
}

func validateLeaf(r *core.LeafResult, role string) error {
	switch {
	case r == nil:
		return errors.New(errors.CodeIncompleteInput, "missing leaf result", nil).
			WithContext("agent", role)
	case r.Agent != role:
		return errors.New(errors.CodeIncompleteInput, "leaf result from unexpected agent", nil).
			WithContext("want", role).
			WithContext("got", r.Agent)
	case !r.Domain.Contains(r.Score):
		return errors.New(errors.CodeIncompleteInput, "leaf score outside its declared domain", nil).
			WithContext("agent", role).
			WithContext("score", r.Score).
			WithContext("domain", r.Domain.String())
	case !core.ConfidenceDomain.Contains(r.Confidence):
		return errors.New(errors.CodeIncompleteInput, "leaf confidence outside [0,1]", nil).
			WithContext("agent", role).
			WithContext("confidence", r.Confidence)
	}
	return nil
}

func verdictInput(compound string, efficacy, toxicity *core.LeafResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compound: %s\n\n", compound)
	writeLeaf(&b, "CF efficacy assessment", efficacy)
	writeLeaf(&b, "Toxicity screening assessment", toxicity)
	return b.String()
}

func writeLeaf(b *strings.Builder, title string, r *core.LeafResult) {
	fmt.Fprintf(b, "%s:\n", title)
	fmt.Fprintf(b, "  score: %g (domain %s)\n", r.Score, r.Domain.String())
	fmt.Fprintf(b, "  confidence: %g\n", r.Confidence)
	if r.Degraded {
		b.WriteString("  note: this assessment is degraded (budget exhausted or clamped output)\n")
	}
	fmt.Fprintf(b, "  reasoning: %s\n\n", r.Reasoning)
}
