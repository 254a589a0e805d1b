// Package pool runs independent units of work concurrently behind a weighted
// semaphore and collects every outcome as a value.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
)

// Result is the outcome of one unit of work.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run calls fn for every index in [0, n) on its own goroutine, admitting at
// most limit calls at once (limit <= 0 means no bound). It waits for all calls
// and returns their results in index order. A panicking call is reported as an
// error wrapping core.ErrTaskPanicked; it never affects the other calls.
func Run[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	if n == 0 {
		return results
	}

	var sem *semaphore.Weighted
	if limit > 0 {
		sem = semaphore.NewWeighted(int64(limit))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i].Index = i

			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					results[i].Err = err
					return
				}
				defer sem.Release(1)
			}

			results[i].Value, results[i].Err = call(ctx, i, fn)
		}(i)
	}
	wg.Wait()

	return results
}

func call[T any](ctx context.Context, i int, fn func(context.Context, int) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", core.ErrTaskPanicked, r, debug.Stack())
		}
	}()
	return fn(ctx, i)
}

// Errors returns the non-nil errors of results.
func Errors[T any](results []Result[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
