package validation

import (
	"context"
	"fmt"

	"medintake/internal/fields"
)

// NormalizationResult is what the Normalizer hands back to callers that
// only want clean data plus advice on what to fix.
type NormalizationResult struct {
	Success         bool              `json:"success"`
	Normalized      fields.Record     `json:"normalized"`
	Original        map[string]string `json:"original"`
	Summary         Summary           `json:"summary"`
	Mapping         fields.NameReport `json:"mapping"`
	Confidence      float64           `json:"confidence"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// Normalizer combines field-name mapping and validation into one call.
type Normalizer struct {
	orch *Orchestrator
	mode Mode
}

// NewNormalizer wraps orch, validating in mode.
func NewNormalizer(orch *Orchestrator, mode Mode) *Normalizer {
	return &Normalizer{orch: orch, mode: mode}
}

// Normalize maps and validates raw. The confidence is the summary confidence
// minus 0.1 per unmapped key and 0.2 per missing required field, clamped to
// [0,1].
func (n *Normalizer) Normalize(raw map[string]string) NormalizationResult {
	return n.result(raw, n.orch.Validate(raw, n.mode, nil))
}

// NormalizeBatch normalizes independent records through ValidateBatch.
// Results keep the input order.
func (n *Normalizer) NormalizeBatch(ctx context.Context, records []map[string]string, concurrency int) ([]NormalizationResult, error) {
	summaries, err := ValidateBatch(ctx, n.orch, records, n.mode, nil, concurrency)
	if err != nil {
		return nil, err
	}
	out := make([]NormalizationResult, len(records))
	for i, rec := range records {
		out[i] = n.result(rec, summaries[i])
	}
	return out, nil
}

func (n *Normalizer) result(raw map[string]string, summary Summary) NormalizationResult {
	mapping := n.orch.Mapper().ValidateFieldNames(raw)

	confidence := summary.Confidence -
		0.1*float64(len(mapping.Unmapped)) -
		0.2*float64(len(mapping.MissingRequired))
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	var recs []string
	for _, k := range mapping.Unmapped {
		recs = append(recs, fmt.Sprintf("Campo não reconhecido: %s", k))
	}
	for _, f := range mapping.MissingRequired {
		recs = append(recs, fmt.Sprintf("Campo obrigatório ausente: %s", f.Label()))
	}
	for _, f := range fields.All {
		out, ok := summary.PerField[f]
		if !ok || out.Valid {
			continue
		}
		for _, e := range out.Errors {
			recs = append(recs, fmt.Sprintf("%s: %s", f.Label(), e))
		}
		if len(out.Suggestions) > 0 {
			recs = append(recs, fmt.Sprintf("Sugestão para %s: %s", f.Label(), out.Suggestions[0]))
		}
	}

	original := make(map[string]string, len(raw))
	for k, v := range raw {
		original[k] = v
	}
	return NormalizationResult{
		Success:         summary.Valid,
		Normalized:      summary.Normalized,
		Original:        original,
		Summary:         summary,
		Mapping:         mapping,
		Confidence:      confidence,
		Recommendations: recs,
	}
}
