// Package pool provides a bounded-concurrency executor that preserves input
// order in its results regardless of completion order.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// Map runs fn over items with at most limit invocations in flight, and
// returns results in input order. Exactly min(limit, len(items)) workers
// pull indices from a shared cursor until it passes the end of the slice.
//
// The default failure mode is all-or-nothing: the first error cancels the
// remaining work and fails the whole call. Callers that need per-item
// isolation should use MapSettled.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	if limit < 1 {
		return nil, eris.Errorf("pool: concurrency limit must be >= 1, got %d", limit)
	}
	n := len(items)
	if n == 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]R, n)
	var cursor atomic.Int64
	cursor.Store(-1)

	var firstErr error
	var errOnce sync.Once

	var wg sync.WaitGroup
	wg.Add(limit)
	for w := 0; w < limit; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1))
				if i >= n {
					return
				}
				if err := ctx.Err(); err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				r, err := fn(ctx, i, items[i])
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					cancel()
					return
				}
				results[i] = r
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Result is the outcome of one item in a settled run.
type Result[R any] struct {
	Value R
	Err   error
}

// MapSettled runs fn over items like Map, but captures each item's failure
// in its slot instead of aborting the batch. The returned error is non-nil
// only for invalid input.
func MapSettled[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) ([]Result[R], error) {
	return Map(ctx, items, limit, func(ctx context.Context, i int, item T) (Result[R], error) {
		r, err := fn(ctx, i, item)
		return Result[R]{Value: r, Err: err}, nil
	})
}
