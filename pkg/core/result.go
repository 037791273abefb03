// SPDX-License-Identifier: Apache-2.0
package core

import "fmt"

// ScoreDomain declares the closed interval a leaf agent score must fall in.
type ScoreDomain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Standard domains for the two leaf tasks.
var (
	// EfficacyDomain bounds predicted efficacy for reversing the fibrosis
	// phenotype: 0 is no reversal, 1 is complete reversal.
	EfficacyDomain = ScoreDomain{Min: 0, Max: 1}

	// ViabilityDomain bounds percent cells remaining after compound exposure.
	ViabilityDomain = ScoreDomain{Min: 0, Max: 100}

	// ConfidenceDomain bounds confidence expressed as a probability.
	ConfidenceDomain = ScoreDomain{Min: 0, Max: 1}
)

// Contains reports whether v lies within the domain.
func (d ScoreDomain) Contains(v float64) bool {
	return v >= d.Min && v <= d.Max
}

// Clamp returns v forced into the domain.
func (d ScoreDomain) Clamp(v float64) float64 {
	if v < d.Min {
		return d.Min
	}
	if v > d.Max {
		return d.Max
	}
	return v
}

// String renders the domain as a closed interval.
func (d ScoreDomain) String() string {
	return fmt.Sprintf("[%g, %g]", d.Min, d.Max)
}

// LeafResult is the immutable output of one reasoning loop run. The result
// owns its trajectory exclusively; the trajectory is closed before the result
// is returned.
type LeafResult struct {
	// Agent identifies the leaf role that produced the result
	// ("cf_efficacy" or "toxicity_screening").
	Agent string `json:"agent"`

	// Score is the task prediction, within Domain.
	Score float64 `json:"score"`

	// Domain is the declared interval for Score.
	Domain ScoreDomain `json:"domain"`

	// Confidence is the probability, in [0,1], that Score is accurate.
	Confidence float64 `json:"confidence"`

	// Reasoning is the agent's free-text justification.
	Reasoning string `json:"reasoning"`

	// Degraded is set when the loop hit its step budget before declaring
	// completion, or when an out-of-range score had to be clamped.
	Degraded bool `json:"degraded,omitempty"`

	// Trajectory is the closed step record of the run.
	Trajectory *Trajectory `json:"trajectory"`
}

// CompositeResult is the coordinator's fused priority judgment. It aggregates
// the two leaf results by reference; trajectories are not duplicated.
type CompositeResult struct {
	Compound      string      `json:"compound"`
	PriorityScore float64     `json:"priority_score"`
	Confidence    float64     `json:"confidence"`
	Reasoning     string      `json:"reasoning"`
	Efficacy      *LeafResult `json:"efficacy"`
	Toxicity      *LeafResult `json:"toxicity"`
}
