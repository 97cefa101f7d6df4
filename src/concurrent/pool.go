package concurrent

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Limiter bounds how many callers may run at once.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter returns a Limiter admitting at most n concurrent callers.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = 10
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

// Do runs fn once a slot is free, or returns ctx.Err() if ctx ends first.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
		return fn()
	}
}

// Cap is the maximum number of concurrent callers.
func (l *Limiter) Cap() int { return cap(l.sem) }

// Map applies fn to every item with at most limit calls in flight.
// Results keep input order. All failures are returned together.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	lim := NewLimiter(limit)
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = lim.Do(ctx, func() error {
				r, err := fn(ctx, item)
				results[i] = r
				return err
			})
		}()
	}
	wg.Wait()

	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return results, merr.ErrorOrNil()
}

// ForEach is Map without results.
func ForEach[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	_, err := Map(ctx, items, limit, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
