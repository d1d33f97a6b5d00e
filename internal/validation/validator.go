// Package validation normalizes and scores the heterogeneous, locale-specific
// values an intake conversation collects: Brazilian phone numbers, CPF and CEP
// numbers, personal names, relative dates and times of day.
//
// Every validator reports failure as a value. Validate never returns a Go
// error and never panics on user input; the Orchestrator additionally
// recovers validator panics into failed outcomes.
package validation

import "medintake/internal/textnorm"

// Outcome is the per-field result of a validation.
// When Valid is false, Normalized is empty.
type Outcome struct {
	Valid       bool                   `json:"valid"`
	Normalized  string                 `json:"normalized,omitempty"`
	Original    string                 `json:"original"`
	Errors      []string               `json:"errors,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Confidence  float64                `json:"confidence"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validator validates and normalizes a single raw value.
type Validator interface {
	// Validate checks raw and returns the full outcome.
	Validate(raw string) Outcome
	// Normalize returns the canonical form of raw, or "" when raw is invalid.
	Normalize(raw string) string
	// Suggest proposes corrected values for raw.
	Suggest(raw string) []string
}

func invalid(original string, suggestions []string, errs ...string) Outcome {
	return Outcome{
		Valid:       false,
		Original:    original,
		Errors:      errs,
		Suggestions: suggestions,
		Confidence:  0,
	}
}

func valid(original, normalized string, confidence float64, warnings []string, meta map[string]interface{}) Outcome {
	return Outcome{
		Valid:      true,
		Normalized: normalized,
		Original:   original,
		Warnings:   warnings,
		Confidence: confidence,
		Metadata:   meta,
	}
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		if it == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if existing == it {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, it)
		}
	}
	return list
}

func clean(raw string) string {
	return textnorm.CollapseSpaces(raw)
}
