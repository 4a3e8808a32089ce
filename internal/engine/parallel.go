package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// BatchOptions configures a bounded-parallel batch.
type BatchOptions[T, R any] struct {
	MaxConcurrency int                       // permits; <= 0 means 1
	OnProgress     func(index int, item T)   // before an item executes
	OnResult       func(index int, result R) // after an item completes
	Failed         func(item T, err error) R // synthetic result for a panicking item
	Logger         *slog.Logger
}

// RunBounded executes items with at most MaxConcurrency in flight, writing
// each result into the slot matching its input position, so the returned
// list preserves input order regardless of completion order. Cancellation
// is cooperative: it is checked before and after acquiring a permit, never
// interrupting an item already executing — completed results are retained
// and skipped slots are dropped from the returned list. A panic in exec is
// converted into a synthetic failed result for that item only; callback
// panics are logged and swallowed.
func RunBounded[T, R any](ctx context.Context, items []T, exec func(ctx context.Context, item T) R, opts BatchOptions[T, R]) ([]R, bool) {
	max := opts.MaxConcurrency
	if max <= 0 {
		max = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sem := make(chan struct{}, max)
	results := make([]R, len(items))
	done := make([]bool, len(items))

	var wg sync.WaitGroup
	for i := range items {
		if ctx.Err() != nil {
			break
		}

		idx := i
		item := items[i]

		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			if opts.OnProgress != nil {
				invokeCallback(logger, "on_progress", func() { opts.OnProgress(idx, item) })
			}

			results[idx] = runOne(ctx, exec, item, opts.Failed)
			done[idx] = true

			if opts.OnResult != nil {
				invokeCallback(logger, "on_result", func() { opts.OnResult(idx, results[idx]) })
			}
		}()
	}
	wg.Wait()

	aborted := ctx.Err() != nil
	if !aborted {
		return results, false
	}

	out := make([]R, 0, len(items))
	for i := range results {
		if done[i] {
			out = append(out, results[i])
		}
	}
	return out, true
}

func runOne[T, R any](ctx context.Context, exec func(ctx context.Context, item T) R, item T, failed func(item T, err error) R) (out R) {
	defer func() {
		if p := recover(); p != nil && failed != nil {
			out = failed(item, fmt.Errorf("engine: panic: %v", p))
		}
	}()
	return exec(ctx, item)
}

// invokeCallback shields the batch from observer failures: a panicking
// callback is logged and never fails or aborts the batch.
func invokeCallback(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("callback panicked", "callback", name, "panic", p)
		}
	}()
	fn()
}
