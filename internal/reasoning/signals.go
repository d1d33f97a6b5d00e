package reasoning

import (
	"medintake/internal/fields"
	"medintake/internal/session"
	"medintake/internal/textnorm"
)

// Correction is a field that already had a value and received a different
// one in the current turn.
type Correction struct {
	Field    fields.CanonicalField `json:"field"`
	Previous string                `json:"previous"`
	Current  string                `json:"current"`
}

// DetectCorrections diffs incoming against previous, in canonical order.
func DetectCorrections(previous, incoming fields.Record) []Correction {
	var out []Correction
	for _, f := range incoming.Ordered() {
		old := previous[f]
		if old != "" && old != incoming[f] {
			out = append(out, Correction{Field: f, Previous: old, Current: incoming[f]})
		}
	}
	return out
}

// DetectProgression walks history in order and records when each required
// field first appears. Fields that first appear in the same turn count in
// canonical order. An arrival order that is a prefix of required is
// sequential; a complete arrival in any other order is random.
func DetectProgression(history []session.Turn, required []fields.CanonicalField) session.Progression {
	seen := make(map[fields.CanonicalField]bool, len(required))
	var arrival []fields.CanonicalField
	for _, t := range history {
		for _, f := range required {
			if !seen[f] && t.Snapshot.Present(f) {
				seen[f] = true
				arrival = append(arrival, f)
			}
		}
	}
	if len(arrival) == 0 {
		return session.ProgressionUndetermined
	}

	prefix := true
	for i, f := range arrival {
		if required[i] != f {
			prefix = false
			break
		}
	}
	switch {
	case prefix:
		return session.ProgressionSequential
	case len(arrival) == len(required):
		return session.ProgressionRandom
	default:
		return session.ProgressionUndetermined
	}
}

// Jaccard returns the word-set similarity of a and b. Two empty texts have
// similarity 0.
func Jaccard(a, b string) float64 {
	wa, wb := textnorm.WordSet(a), textnorm.WordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

// Completion strategies recorded on the session context.
const (
	StrategyOneByOne = "one_by_one"
	StrategyBatch    = "batch"
	StrategyConfirm  = "confirm"
)

// completionStrategy picks how the remaining fields are requested. Users who
// answer in the asked order get one question at a time; users who volunteer
// fields out of order get every remaining field at once.
func completionStrategy(p session.Progression, collected int, missing []fields.CanonicalField) string {
	switch {
	case len(missing) == 0:
		return StrategyConfirm
	case p != session.ProgressionSequential && collected > 0 && len(missing) > 1:
		return StrategyBatch
	default:
		return StrategyOneByOne
	}
}
