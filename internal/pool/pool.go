// Package pool runs a fixed set of independent tasks with a ceiling on how
// many are in flight at once.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map calls fn once per input with at most limit calls unresolved at any
// time and returns the results in input order. A limit below 1 is treated
// as 1. Map always drains its whole input: fn is expected to turn its own
// failures into result values and to honour ctx itself.
func Map[T, R any](ctx context.Context, limit int, inputs []T, fn func(context.Context, T) R) []R {
	if limit < 1 {
		limit = 1
	}
	results := make([]R, len(inputs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, in := range inputs {
		// Go blocks while limit tasks are running.
		g.Go(func() error {
			results[i] = fn(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
