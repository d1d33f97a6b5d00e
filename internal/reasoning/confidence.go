package reasoning

import (
	"medintake/internal/config"
	"medintake/internal/fields"
)

// Factors are the normalized components of the turn confidence, each in
// [0, 1] before weighting.
type Factors struct {
	Completeness float64 `json:"completeness"`
	Validation   float64 `json:"validation"`
	Required     float64 `json:"required"`
	Length       float64 `json:"length"`
	Temporal     float64 `json:"temporal"`
}

// errorPenalty is how much of the validation component one error removes,
// relative to the default 0.25 weight.
const errorPenalty = 0.1 / 0.25

type confidenceInput struct {
	record           fields.Record
	targets          []fields.CanonicalField
	required         []fields.CanonicalField
	validationErrors int
	turns            int
	turnCap          int
	temporalResolved bool
}

func computeFactors(in confidenceInput) Factors {
	var f Factors
	f.Completeness = fraction(in.record, in.targets)
	f.Required = fraction(in.record, in.required)
	f.Validation = clamp01(1 - errorPenalty*float64(in.validationErrors))
	if in.turnCap > 0 {
		turns := in.turns
		if turns > in.turnCap {
			turns = in.turnCap
		}
		f.Length = float64(turns) / float64(in.turnCap)
	}
	if in.temporalResolved {
		f.Temporal = 1
	}
	return f
}

// Score weighs f with w and clamps the sum to [0, 1].
func (f Factors) Score(w config.ConfidenceWeights) float64 {
	return clamp01(w.Completeness*f.Completeness +
		w.Validation*f.Validation +
		w.Required*f.Required +
		w.Length*f.Length +
		w.Temporal*f.Temporal)
}

func fraction(r fields.Record, set []fields.CanonicalField) float64 {
	if len(set) == 0 {
		return 1
	}
	n := 0
	for _, f := range set {
		if r.Present(f) {
			n++
		}
	}
	return float64(n) / float64(len(set))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
