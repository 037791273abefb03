// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixbio/triage/pkg/gateway"
	"github.com/helixbio/triage/pkg/litl"
	"github.com/helixbio/triage/pkg/llm"
)

// Internal assay names in the lab-in-the-loop record.
const (
	AssayEfficacy  = "cf_phenotype_reversal"
	AssayViability = "cell_viability"
)

// LITLProvider exposes the lab-in-the-loop record as tools: direct assay
// history for a compound, plus analog reasoning where a model compares the
// query compound against the whole reference table. Results reflect live
// internal data, so nothing here is cacheable.
type LITLProvider struct {
	store    *litl.Store
	reasoner llm.Provider
	model    string
}

// NewLITL creates the lab-in-the-loop provider. reasoner drives the analog
// reasoning tools; it may be nil when only raw history is needed.
func NewLITL(store *litl.Store, reasoner llm.Provider, model string) *LITLProvider {
	return &LITLProvider{store: store, reasoner: reasoner, model: model}
}

// Name implements gateway.Provider.
func (p *LITLProvider) Name() string { return "litl" }

// Call implements gateway.Provider.
func (p *LITLProvider) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	switch tool {
	case "litl.assay_history":
		return p.assayHistory(ctx, args)
	case "litl.efficacy_reasoning":
		return p.analogReasoning(ctx, args, AssayEfficacy,
			"The assay measures reversal of the failing cardiac fibroblast phenotype; 0 means no fibroblasts reversed, 1 means all fibroblasts reversed.")
	case "litl.toxicity_reasoning":
		return p.analogReasoning(ctx, args, AssayViability,
			"The assay measures percent cells remaining viable after exposure to a 10 uM solution; 100 means no measurable toxicity.")
	case "litl.run_history":
		return p.runHistory(ctx, args)
	case "litl.compounds":
		return p.compounds(ctx)
	default:
		return nil, fmt.Errorf("litl: unsupported tool %q", tool)
	}
}

func (p *LITLProvider) assayHistory(ctx context.Context, args map[string]any) (any, error) {
	compound, err := stringArg(args, "compound")
	if err != nil {
		return nil, err
	}
	records, err := p.store.AssaysByCompound(ctx, compound, optionalStringArg(args, "assay"), intArg(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return "No internal assay records for this compound.", nil
	}
	return records, nil
}

// runHistory returns prior agent verdicts for a compound without the full
// trajectories; those stay in the store.
func (p *LITLProvider) runHistory(ctx context.Context, args map[string]any) (any, error) {
	compound, err := stringArg(args, "compound")
	if err != nil {
		return nil, err
	}
	runs, err := p.store.RunsByCompound(ctx, compound, intArg(args, "limit", 10))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return "No prior triage runs for this compound.", nil
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, map[string]any{
			"run_id":     run.RunID,
			"agent":      run.Agent,
			"score":      run.Score,
			"confidence": run.Confidence,
			"degraded":   run.Degraded,
			"reasoning":  run.Reasoning,
			"created_at": run.CreatedAt,
		})
	}
	return out, nil
}

func (p *LITLProvider) compounds(ctx context.Context) (any, error) {
	names, err := p.store.Compounds(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return "The internal assay record is empty.", nil
	}
	return names, nil
}

// analogReasoning asks the reasoning model to infer the query compound's
// behavior from measured reference compounds in the same assay.
func (p *LITLProvider) analogReasoning(ctx context.Context, args map[string]any, assay, assayDescription string) (any, error) {
	if p.reasoner == nil {
		return nil, fmt.Errorf("litl: reasoning tools are not configured")
	}
	compound, err := stringArg(args, "compound")
	if err != nil {
		return nil, err
	}
	refs, err := p.store.AssaysByType(ctx, assay, 200)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return "No relevant compound found in the reference data.", nil
	}

	var table strings.Builder
	for _, rec := range refs {
		fmt.Fprintf(&table, "%s | %.2f %s\n", rec.Compound, rec.Value, rec.Units)
	}

	prompt := fmt.Sprintf(`You are a medicinal-chemistry expert supporting an automated triage agent.
%s

Measured reference data (compound | value):
%s
For the query compound **%s**:
1. Identify reference compounds with similar mechanisms or molecular features.
2. Assess the relevance of each match: binding mode, intracellular exposure, cell-type dependence.
3. Explain the inference in 3-4 concise sentences. If no relevant compound exists, say: "No relevant compound found in the reference data."

Return only the reasoning text, no markdown.`, assayDescription, table.String(), compound)

	resp, err := p.reasoner.Chat(ctx, llm.ChatRequest{
		Model:    p.model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Descriptors returns the gateway declarations for the lab-in-the-loop tools.
func (p *LITLProvider) Descriptors() []gateway.Descriptor {
	compoundProp := map[string]any{"type": "string", "description": "Compound name as used in the internal record."}
	return []gateway.Descriptor{
		{
			Name:        "litl.assay_history",
			Description: "Fetch internal wet-lab assay measurements for a compound. Check this before any public source.",
			Provider:    p.Name(),
			Cacheable:   false,
			InputSchema: objectSchema(map[string]any{
				"compound": compoundProp,
				"assay":    map[string]any{"type": "string", "description": "Restrict to one assay name."},
				"limit":    map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			}, "compound"),
		},
		{
			Name:        "litl.efficacy_reasoning",
			Description: "Infer likely phenotype-reversal efficacy from measured internal analogs.",
			Provider:    p.Name(),
			Cacheable:   false,
			InputSchema: objectSchema(map[string]any{"compound": compoundProp}, "compound"),
		},
		{
			Name:        "litl.toxicity_reasoning",
			Description: "Infer likely cell viability from measured internal analogs.",
			Provider:    p.Name(),
			Cacheable:   false,
			InputSchema: objectSchema(map[string]any{"compound": compoundProp}, "compound"),
		},
		{
			Name:        "litl.run_history",
			Description: "List prior triage verdicts recorded for a compound.",
			Provider:    p.Name(),
			Cacheable:   false,
			InputSchema: objectSchema(map[string]any{
				"compound": compoundProp,
				"limit":    map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			}, "compound"),
		},
		{
			Name:        "litl.compounds",
			Description: "List every compound present in the internal assay record.",
			Provider:    p.Name(),
			Cacheable:   false,
			InputSchema: objectSchema(map[string]any{}),
		},
	}
}
