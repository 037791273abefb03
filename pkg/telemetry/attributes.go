// Copyright 2026 © Helix Bio
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Triage telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Agent attributes
	AttrAgentRole    = "triage.agent.role"
	AttrAgentRunID   = "triage.agent.run_id"
	AttrAgentStep    = "triage.agent.step"
	AttrAgentMaxStep = "triage.agent.max_steps"
	AttrCompound     = "triage.compound"

	// Tool / gateway attributes
	AttrToolName       = "triage.tool.name"
	AttrToolProvider   = "triage.tool.provider"
	AttrToolDurationMs = "triage.tool.duration_ms"
	AttrToolSuccess    = "triage.tool.success"
	AttrCacheHit       = "triage.gateway.cache_hit"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// AgentAttributes returns span attributes for a reasoning-loop run.
func AgentAttributes(role, runID string, step, maxSteps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAgentRole, role),
		attribute.String(AttrAgentRunID, runID),
		attribute.Int(AttrAgentStep, step),
		attribute.Int(AttrAgentMaxStep, maxSteps),
	}
}

// ToolCallAttributes returns span attributes for a gateway invocation.
func ToolCallAttributes(tool, provider string, durationMs float64, cacheHit, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolProvider, provider),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrCacheHit, cacheHit),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// LLMAttributes returns span attributes for a reasoning-model call.
func LLMAttributes(model string, inputTokens, outputTokens, toolCalls int, durationMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMTokensInput, inputTokens),
		attribute.Int(AttrLLMTokensOutput, outputTokens),
		attribute.Int(AttrLLMToolCalls, toolCalls),
		attribute.Float64(AttrLLMDurationMs, durationMs),
	}
}
