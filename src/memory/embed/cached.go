package embed

import (
	"context"
	"io"
	"slices"
	"time"

	"github.com/bahamondeX/fact/src/cache"
)

// Cached memoises vectors per (model, text).
type Cached struct {
	next  Embedder
	model string
	lru   *cache.LRU[[]float32]
}

func NewCached(next Embedder, model string, size int, ttl time.Duration) *Cached {
	return &Cached{next: next, model: model, lru: cache.NewLRU[[]float32](size, ttl)}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.HashKey(c.model, text)
	if v, ok := c.lru.Get(key); ok {
		return slices.Clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, slices.Clone(v))
	return v, nil
}

func (c *Cached) Stats() (hits, misses uint64) { return c.lru.Stats() }

func (c *Cached) Close() error {
	if cl, ok := c.next.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
