// Package perception turns a free-text user message into a raw field
// mapping. Extractors never validate; the validation orchestrator does that
// downstream.
package perception

import (
	"context"

	"medintake/internal/session"
)

// Result is what an extractor produced for one message. Data is keyed by raw
// field names (Portuguese source names or any alias the mapper accepts).
type Result struct {
	Success    bool              `json:"success"`
	Data       map[string]string `json:"extracted_data"`
	Confidence float64           `json:"confidence_score"`
	Err        string            `json:"error,omitempty"`
	// Source names the extractor that produced the result.
	Source string `json:"source,omitempty"`
}

// Failed returns an unsuccessful result carrying err.
func Failed(source string, err error) Result {
	msg := "extraction failed"
	if err != nil {
		msg = err.Error()
	}
	return Result{Source: source, Err: msg, Data: map[string]string{}}
}

// Extractor pulls raw fields out of a message. sc is read-only context the
// extractor may use to resolve what the user is answering.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, message string, sc *session.Context) (Result, error)
}
