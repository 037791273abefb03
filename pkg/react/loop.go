// SPDX-License-Identifier: Apache-2.0
// Package react implements the reasoning-act loop shared by all leaf agents:
// the model alternates tool calls with reasoning until it produces a final
// structured answer or exhausts its step budget.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixbio/triage/pkg/core"
	"github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/gateway"
	"github.com/helixbio/triage/pkg/llm"
	"github.com/helixbio/triage/pkg/resilience"
	"github.com/helixbio/triage/pkg/summarize"
	"github.com/helixbio/triage/pkg/telemetry"
)

// Config declares one leaf agent's identity and budget.
type Config struct {
	// Role names the agent, e.g. "cf_efficacy".
	Role string
	// Goal is the task statement given to the model and to the summarizer.
	Goal string
	// Domain bounds the final score.
	Domain core.ScoreDomain
	// Tools restricts the agent to a subset of registered tool names. Empty
	// means every registered tool.
	Tools []string
	// MaxSteps caps loop iterations. Each model turn is one step.
	MaxSteps int
	// Model and Temperature are passed through to the provider.
	Model       string
	Temperature float64
}

// Loop drives one agent's think/act/observe cycle against the tool gateway.
type Loop struct {
	cfg        Config
	provider   llm.Provider
	gateway    *gateway.Gateway
	summarizer *summarize.Summarizer
	emitter    core.EventEmitter
	retry      resilience.RetryConfig
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

// Option configures a Loop.
type Option func(*Loop)

// WithSummarizer condenses observations against the agent goal before they
// enter the conversation.
func WithSummarizer(s *summarize.Summarizer) Option {
	return func(l *Loop) { l.summarizer = s }
}

// WithEmitter attaches a semantic event sink.
func WithEmitter(e core.EventEmitter) Option {
	return func(l *Loop) { l.emitter = e }
}

// WithRetry replaces the retry budget for model calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(l *Loop) { l.retry = rc }
}

// WithLogger replaces the default logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithMetrics attaches a metrics instance.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates a Loop. MaxSteps defaults to 10 when unset.
func New(cfg Config, provider llm.Provider, gw *gateway.Gateway, opts ...Option) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	l := &Loop{
		cfg:      cfg,
		provider: provider,
		gateway:  gw,
		emitter:  core.NoopEventEmitter{},
		retry:    resilience.DefaultRetryConfig().WithMaxAttempts(2),
		logger:   slog.Default(),
		tracer:   otel.Tracer("triage.react"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the loop for one compound and returns the leaf result. The
// returned trajectory is closed. Budget exhaustion yields a degraded result
// rather than an error: a weak answer with zero confidence is still more
// useful to the coordinator than no answer.
func (l *Loop) Run(ctx context.Context, compound string) (*core.LeafResult, error) {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := l.tracer.Start(ctx, "react.run")
	defer span.End()

	traj := core.NewTrajectory()
	tools, allowed := l.toolset()
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: l.systemPrompt()},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Compound under analysis: %s\n\nTask: %s", compound, l.cfg.Goal)},
	}

	reprompted := false
	unknownTools := 0
	for step := 1; step <= l.cfg.MaxSteps; step++ {
		span.SetAttributes(telemetry.AgentAttributes(l.cfg.Role, runID, step, l.cfg.MaxSteps)...)

		resp, err := l.chat(ctx, messages, tools)
		if err != nil {
			traj.Close()
			l.emit(ctx, core.EventAgentError, runID, map[string]any{"error": err.Error(), "step": step})
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, errors.New(errors.CodeLLMError, "reasoning model call failed", err).
				WithContext("agent", l.cfg.Role).
				WithContext("step", step)
		}

		if len(resp.ToolCalls) > 0 {
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			if resp.Content != "" {
				l.emit(ctx, core.EventAgentThinking, runID, map[string]any{"thought": resp.Content, "step": step})
			}
			for _, call := range resp.ToolCalls {
				obs, args, unknown := l.observe(ctx, runID, allowed, call)
				if unknown {
					// The first stray name goes back as an observation so
					// the model can correct itself; a repeat is fatal.
					unknownTools++
					if unknownTools > 1 {
						traj.Close()
						err := errors.New(errors.CodeUnknownTool,
							fmt.Sprintf("tool %q is not in the agent's capability set", call.Function.Name), nil).
							WithContext("agent", l.cfg.Role).
							WithContext("step", step)
						l.emit(ctx, core.EventAgentError, runID, map[string]any{"error": err.Error(), "step": step})
						span.SetStatus(otelcodes.Error, err.Error())
						return nil, err
					}
				}
				if err := traj.Append(core.Step{
					Thought:     resp.Content,
					ToolName:    call.Function.Name,
					ToolArgs:    args,
					Observation: obs,
				}); err != nil {
					return nil, err
				}
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    obs,
					ToolCallID: call.ID,
				})
			}
			continue
		}

		// No tool calls: the model is declaring completion.
		answer, perr := ParseAnswer(resp.Content)
		if perr != nil {
			if reprompted {
				traj.Close()
				l.emit(ctx, core.EventAgentError, runID, map[string]any{"error": perr.Error(), "step": step})
				span.SetStatus(otelcodes.Error, perr.Error())
				return nil, errors.AsTriageError(perr).WithContext("agent", l.cfg.Role)
			}
			reprompted = true
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
				llm.Message{Role: llm.RoleUser, Content: repromptInstruction},
			)
			continue
		}
		return l.finish(ctx, span, traj, runID, answer, traj.Len()+1, false)
	}

	// Budget exhausted: demand an immediate answer with one extra turn.
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: forcedFinishInstruction})
	if resp, err := l.chat(ctx, messages, nil); err == nil {
		if answer, perr := ParseAnswer(resp.Content); perr == nil {
			return l.finish(ctx, span, traj, runID, answer, l.cfg.MaxSteps, true)
		}
	}
	l.logger.WarnContext(ctx, "step budget exhausted without a final answer",
		"agent", l.cfg.Role, "max_steps", l.cfg.MaxSteps)
	answer := Answer{
		Score:      (l.cfg.Domain.Min + l.cfg.Domain.Max) / 2,
		Confidence: 0,
		Reasoning:  fmt.Sprintf("no conclusion reached within %d steps", l.cfg.MaxSteps),
	}
	return l.finish(ctx, span, traj, runID, answer, l.cfg.MaxSteps, true)
}

const repromptInstruction = `Your final answer was not parseable. Reply again with ONLY a JSON object of the form {"score": <number>, "confidence": <number between 0 and 1>, "reasoning": "<text>"} and nothing else.`

const forcedFinishInstruction = `You have used your entire step budget. Based on the evidence gathered so far, reply now with ONLY a JSON object of the form {"score": <number>, "confidence": <number between 0 and 1>, "reasoning": "<text>"}.`

// finish seals the trajectory and builds the leaf result, enforcing domains.
func (l *Loop) finish(ctx context.Context, span trace.Span, traj *core.Trajectory, runID string, answer Answer, steps int, degraded bool) (*core.LeafResult, error) {
	score := answer.Score
	if !l.cfg.Domain.Contains(score) {
		l.logger.WarnContext(ctx, "score outside declared domain, clamping",
			"agent", l.cfg.Role, "score", score, "domain", l.cfg.Domain.String())
		l.metrics.RecordError(ctx, string(errors.CodeOutOfRangeResult), "react")
		score = l.cfg.Domain.Clamp(score)
		degraded = true
	}
	confidence := core.ConfidenceDomain.Clamp(answer.Confidence)

	if err := traj.Append(core.Step{Thought: answer.Reasoning}); err != nil {
		return nil, err
	}
	traj.Close()

	l.metrics.RecordAgentSteps(ctx, l.cfg.Role, steps)
	l.emit(ctx, core.EventAgentFinished, runID, map[string]any{
		"score":      score,
		"confidence": confidence,
		"degraded":   degraded,
	})
	span.SetStatus(otelcodes.Ok, "")
	return &core.LeafResult{
		Agent:      l.cfg.Role,
		Score:      score,
		Domain:     l.cfg.Domain,
		Confidence: confidence,
		Reasoning:  answer.Reasoning,
		Degraded:   degraded,
		Trajectory: traj,
	}, nil
}

// observe resolves one tool call into an observation string. Tool failures
// become observations instead of loop errors so the model can adjust course;
// the unknown return flags a tool name outside the agent's capability set.
func (l *Loop) observe(ctx context.Context, runID string, allowed map[string]bool, call llm.ToolCall) (string, map[string]any, bool) {
	name := call.Function.Name
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil && call.Function.Arguments != "" {
		return fmt.Sprintf("error: tool arguments are not valid JSON: %v", err), nil, false
	}

	l.emit(ctx, core.EventAgentToolCall, runID, map[string]any{"tool": name, "arguments": args})

	if !allowed[name] {
		l.metrics.RecordError(ctx, string(errors.CodeUnknownTool), "react")
		return fmt.Sprintf("error: %q is not one of your available tools", name), args, true
	}
	result, err := l.gateway.Invoke(ctx, name, args)
	if err != nil {
		l.logger.WarnContext(ctx, "tool invocation failed",
			"agent", l.cfg.Role, "tool", name, "error", err)
		return fmt.Sprintf("error: %v", err), args, false
	}

	raw := renderResult(result)
	obs := raw
	summarized := false
	if l.summarizer != nil {
		obs, summarized = l.summarizer.Summarize(ctx, l.cfg.Goal, raw)
	}
	l.emit(ctx, core.EventAgentObservation, runID, map[string]any{
		"tool":       name,
		"summarized": summarized,
		"length":     len(obs),
	})
	return obs, args, false
}

// chat runs one model turn under the retry budget.
func (l *Loop) chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.ChatResponse, error) {
	start := time.Now()
	out, err := l.retry.DoWithResult(ctx, func() (interface{}, error) {
		return l.provider.Chat(ctx, llm.ChatRequest{
			Model:       l.cfg.Model,
			Messages:    messages,
			Tools:       tools,
			Temperature: l.cfg.Temperature,
		})
	})
	elapsed := float64(time.Since(start).Milliseconds())
	l.metrics.RecordLLMLatency(ctx, l.cfg.Model, elapsed)
	if err != nil {
		return nil, err
	}
	resp := out.(*llm.ChatResponse)
	trace.SpanFromContext(ctx).SetAttributes(telemetry.LLMAttributes(
		l.cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
		len(resp.ToolCalls), elapsed)...)
	return resp, nil
}

// toolset builds the model-facing tool definitions and the permitted-name set.
func (l *Loop) toolset() ([]llm.Tool, map[string]bool) {
	restrict := make(map[string]bool, len(l.cfg.Tools))
	for _, name := range l.cfg.Tools {
		restrict[name] = true
	}

	var tools []llm.Tool
	allowed := make(map[string]bool)
	for _, d := range l.gateway.Descriptors() {
		if len(restrict) > 0 && !restrict[d.Name] {
			continue
		}
		allowed[d.Name] = true
		tools = append(tools, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return tools, allowed
}

func (l *Loop) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent in a drug-candidate triage pipeline.\n\n", l.cfg.Role)
	b.WriteString("Work in steps: call tools to gather evidence, reason over the observations, ")
	b.WriteString("and stop as soon as the evidence supports a conclusion.\n")
	fmt.Fprintf(&b, "Your score must fall within %s.\n\n", l.cfg.Domain.String())
	b.WriteString(`When you are done, reply WITHOUT any tool call, with ONLY a JSON object: {"score": <number>, "confidence": <number between 0 and 1>, "reasoning": "<text>"}.`)
	return b.String()
}

func (l *Loop) emit(ctx context.Context, t core.EventType, runID string, payload map[string]any) {
	l.emitter.Emit(ctx, core.NewEvent(t, l.cfg.Role, runID, payload))
}

// renderResult converts an arbitrary tool result into observation text.
func renderResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
