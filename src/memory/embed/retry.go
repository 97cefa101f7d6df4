package embed

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultAttempts    = 3
	DefaultBackoffUnit = time.Second
)

// Retrying wraps an Embedder with linear backoff: after the n-th failed
// attempt it waits n units before trying again.
type Retrying struct {
	next     Embedder
	attempts int
	unit     time.Duration
	log      logrus.FieldLogger
}

type RetryOption func(*Retrying)

func WithAttempts(n int) RetryOption {
	return func(r *Retrying) {
		if n > 0 {
			r.attempts = n
		}
	}
}

func WithBackoffUnit(d time.Duration) RetryOption {
	return func(r *Retrying) {
		if d >= 0 {
			r.unit = d
		}
	}
}

func WithRetryLogger(l logrus.FieldLogger) RetryOption {
	return func(r *Retrying) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRetrying(next Embedder, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     next,
		attempts: DefaultAttempts,
		unit:     DefaultBackoffUnit,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Embed returns the first successful vector. Cancellation of ctx is returned
// as ctx.Err() and never counted as a failed attempt.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		vec, err := r.next.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		last = err
		if attempt == r.attempts {
			break
		}
		wait := time.Duration(attempt) * r.unit
		r.log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": r.attempts,
			"backoff":      wait.String(),
		}).WithError(err).Warn("embedding attempt failed, retrying")
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	r.log.WithField("attempts", r.attempts).WithError(last).Error("embedding failed")
	return nil, &EmbeddingError{Attempts: r.attempts, Err: last}
}

func (r *Retrying) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
