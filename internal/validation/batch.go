package validation

import (
	"context"
	"fmt"

	"medintake/internal/fields"

	"golang.org/x/sync/errgroup"
)

// ValidateBatch validates independent records concurrently, at most
// concurrency at a time. Results keep the input order. The only error is
// context cancellation.
func ValidateBatch(ctx context.Context, o *Orchestrator, records []map[string]string, mode Mode, required []fields.CanonicalField, concurrency int) ([]Summary, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]Summary, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("failed to validate record %d: %w", i, err)
			}
			results[i] = o.Validate(rec, mode, required)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
