// Package workpool runs independent tasks on a bounded number of
// goroutines and reports progress.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrCancelled is returned when the run's context is cancelled. It wraps
// the context's own error.
var ErrCancelled = errors.New("cancelled")

// Cancelled returns a wrapped ErrCancelled if ctx is done or its deadline
// has passed, nil otherwise. A passed deadline counts even before the
// context's timer has fired.
func Cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return fmt.Errorf("%w: %w", ErrCancelled, context.DeadlineExceeded)
	}
	return nil
}

// Map applies fn to every item using at most workers goroutines and
// returns the results in input order. Cancellation is checked before each
// dispatch; once ctx is cancelled no result is returned. The first task
// error stops dispatching and is returned. onProgress, if set, is called
// after each completed task; calls are serialized.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error), onProgress func(done, total int)) ([]R, error) {
	if err := Cancelled(ctx); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu   sync.Mutex
		done int
	)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			if onProgress != nil {
				mu.Lock()
				done++
				onProgress(done, len(items))
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	if cerr := Cancelled(ctx); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Recommend returns a worker count bounded by the CPU count and by how
// many tasks of perTaskMemory bytes fit in physical memory. It never
// returns less than one.
func Recommend(perTaskMemory uint64) int {
	workers := runtime.NumCPU()
	if total := totalMemory(); total > 0 && perTaskMemory > 0 {
		if byMem := total / perTaskMemory; byMem < uint64(workers) {
			workers = int(byMem)
		}
	}
	return max(workers, 1)
}
