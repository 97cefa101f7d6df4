package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrHandleClosed is returned by a Handle after Close.
var ErrHandleClosed = errors.New("embedding handle closed")

// Factory builds the underlying Embedder.
type Factory func(ctx context.Context) (Embedder, error)

// Handle builds its Embedder on first use and shares it with every later
// caller. At most one construction runs at a time and a successful one is
// kept. A failed construction is reported as an *EmbeddingError and retried
// by the next caller. Handle is itself an Embedder and is safe for
// concurrent use.
type Handle struct {
	factory Factory

	mu     sync.Mutex
	emb    Embedder
	closed bool
}

func NewHandle(factory Factory) *Handle {
	return &Handle{factory: factory}
}

// Get returns the shared Embedder, building it if needed.
func (h *Handle) Get(ctx context.Context) (Embedder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.emb != nil {
		return h.emb, nil
	}
	// construction outlives the first caller's ctx
	emb, err := h.factory(context.WithoutCancel(ctx))
	if err != nil {
		return nil, &EmbeddingError{Attempts: 1, Err: fmt.Errorf("build embedder: %w", err)}
	}
	h.emb = emb
	return emb, nil
}

func (h *Handle) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// Close releases the Embedder if it was built. It is safe to call more than
// once and on a handle that was never used.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if c, ok := h.emb.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
