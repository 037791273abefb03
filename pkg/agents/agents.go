// SPDX-License-Identifier: Apache-2.0
// Package agents defines the Triage agent hierarchy: two leaf agents built
// on the reasoning-act loop and the coordinator that fuses their results.
package agents

import (
	"github.com/helixbio/triage/pkg/core"
	"github.com/helixbio/triage/pkg/gateway"
	"github.com/helixbio/triage/pkg/llm"
	"github.com/helixbio/triage/pkg/react"
)

// Leaf agent role names. These identify results end to end, from events to
// the recorded run history.
const (
	RoleEfficacy    = "cf_efficacy"
	RoleToxicity    = "toxicity_screening"
	RoleCoordinator = "coordinator"
)

const efficacyGoal = `Estimate the compound's efficacy for reversing the
failing cardiac fibroblast phenotype in a screening assay. In this screen a
10 uM solution of the compound in DMSO is applied to failing primary human
ventricular fibroblasts for 72 h and scored by a Cell Painting morphology
readout. Consult internal lab-in-the-loop assay history first; it reflects
our own cell lines and is the strongest evidence. Fill gaps with public
bioactivity and literature data. Score 0 means no fibroblasts reversed,
1 means all fibroblasts reversed.`

const toxicityGoal = `Estimate the compound's toxicity in a screening assay
where a 10 uM solution in DMSO is applied to a well with primary human
ventricular fibroblasts. Weigh measured viability assays over structural
analogy. Score is the percent of cells remaining after exposure: 0 means
total cell death, 100 means no measurable toxicity.`

// Params carries the per-agent knobs resolved from configuration.
type Params struct {
	Model       string
	Temperature float64
	MaxSteps    int
	// Tools restricts the agent's capability set; empty means every
	// registered tool.
	Tools []string
}

// DefaultEfficacyTools is the efficacy capability set. The internal
// analog-reasoning tool comes first so the model consults lab history before
// public data.
func DefaultEfficacyTools() []string {
	return []string{
		"litl.efficacy_reasoning",
		"litl.assay_history",
		"pubchem.search_cid",
		"pubchem.compound_properties",
		"pubchem.bioassay_summary",
		"chembl.search_molecule",
		"chembl.bioactivities",
		"chembl.mechanisms",
		"pubmed.search_abstracts",
		"web.search",
	}
}

// DefaultToxicityTools is the toxicity-screening capability set.
func DefaultToxicityTools() []string {
	return []string{
		"litl.toxicity_reasoning",
		"litl.assay_history",
		"pubchem.search_cid",
		"pubchem.toxicity_sections",
		"pubchem.bioassay_summary",
		"chembl.search_molecule",
		"chembl.drug_warnings",
		"pubmed.search_abstracts",
		"web.search",
	}
}

// NewEfficacy builds the cardiac-fibrosis efficacy leaf agent.
func NewEfficacy(p Params, provider llm.Provider, gw *gateway.Gateway, opts ...react.Option) *react.Loop {
	return react.New(react.Config{
		Role:        RoleEfficacy,
		Goal:        efficacyGoal,
		Domain:      core.EfficacyDomain,
		Tools:       p.Tools,
		MaxSteps:    p.MaxSteps,
		Model:       p.Model,
		Temperature: p.Temperature,
	}, provider, gw, opts...)
}

// NewToxicity builds the toxicity screening leaf agent.
func NewToxicity(p Params, provider llm.Provider, gw *gateway.Gateway, opts ...react.Option) *react.Loop {
	return react.New(react.Config{
		Role:        RoleToxicity,
		Goal:        toxicityGoal,
		Domain:      core.ViabilityDomain,
		Tools:       p.Tools,
		MaxSteps:    p.MaxSteps,
		Model:       p.Model,
		Temperature: p.Temperature,
	}, provider, gw, opts...)
}
