// SPDX-License-Identifier: Apache-2.0
// Package summarize condenses raw tool output into the few facts that
// matter for an agent's current goal, keeping reasoning-loop context small.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helixbio/triage/pkg/llm"
	"github.com/helixbio/triage/pkg/telemetry"
)

const systemPrompt = `You compress tool output for a scientific reasoning agent.
Given the agent's goal and a raw tool result, extract only the facts relevant
to that goal. Preserve exact numeric values and units. Output plain prose,
no preamble, at most a short paragraph.`

// Summarizer rewrites observations against a goal. Failures never propagate:
// when the model is unavailable the raw text is returned unchanged, so a
// degraded summarizer only costs context length.
type Summarizer struct {
	provider llm.Provider
	model    string
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	// minLength is the raw size below which summarization is skipped; the
	// model call would cost more than it saves.
	minLength int
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) { s.logger = l }
}

// WithMetrics attaches a metrics instance.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Summarizer) { s.metrics = m }
}

// WithMinLength sets the raw-text size below which no model call is made.
func WithMinLength(n int) Option {
	return func(s *Summarizer) { s.minLength = n }
}

// New creates a Summarizer backed by the given provider and model.
func New(provider llm.Provider, model string, opts ...Option) *Summarizer {
	s := &Summarizer{
		provider:  provider,
		model:     model,
		logger:    slog.Default(),
		minLength: 280,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize condenses raw relative to goal. The returned bool reports
// whether the text was actually summarized; false means the raw text came
// back verbatim, either because it was short or because the model failed.
func (s *Summarizer) Summarize(ctx context.Context, goal, raw string) (string, bool) {
	if len(raw) <= s.minLength {
		return raw, false
	}

	start := time.Now()
	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Goal: %s\n\nRaw tool output:\n%s", goal, raw)},
		},
	})
	s.metrics.RecordLLMLatency(ctx, s.model, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.WarnContext(ctx, "summarization failed, using raw observation",
			"error", err, "raw_len", len(raw))
		return raw, false
	}
	summary := strings.TrimSpace(resp.Content)
	// A digest that grew past the input is worse than no digest.
	if summary == "" || len(summary) >= len(raw) {
		return raw, false
	}
	return summary, true
}
