// Package cache wraps ristretto with a typed, TTL-based API and reporting.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rotisserie/eris"
)

// Cache is a typed in-process cache keyed by string.
type Cache[T any] struct {
	impl *ristretto.Cache[string, T]
	name string
	cost func(T) int64
}

// Stats describes cache effectiveness for the admin endpoint.
type Stats struct {
	Name         string  `json:"name"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	KeysAdded    uint64  `json:"keys_added"`
	KeysEvicted  uint64  `json:"keys_evicted"`
	SetsDropped  uint64  `json:"sets_dropped"`
	SetsRejected uint64  `json:"sets_rejected"`
	CostAdded    uint64  `json:"cost_added"`
	CostEvicted  uint64  `json:"cost_evicted"`
	HitRate      float64 `json:"hit_rate"`
}

// New creates a cache. cost estimates the memory weight of a value; nil
// counts every entry as 1.
func New[T any](name string, cost func(T) int64) (*Cache[T], error) {
	if cost == nil {
		cost = func(T) int64 { return 1 }
	}
	impl, err := ristretto.NewCache(&ristretto.Config[string, T]{
		NumCounters: 1e5,
		MaxCost:     1 << 22, // 4MB
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "cache: create %s", name)
	}
	return &Cache[T]{impl: impl, name: name, cost: cost}, nil
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	return c.impl.Get(key)
}

// Set stores value under key for ttl. Ristretto applies sets asynchronously
// and may drop them under contention, so a following Get can miss.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) bool {
	return c.impl.SetWithTTL(key, value, c.cost(value), ttl)
}

// Wait blocks until buffered sets have been applied.
func (c *Cache[T]) Wait() {
	c.impl.Wait()
}

// Clear removes every entry.
func (c *Cache[T]) Clear() {
	c.impl.Clear()
}

// Close stops the cache's background goroutines.
func (c *Cache[T]) Close() {
	c.impl.Close()
}

// Stats returns a snapshot of the cache metrics.
func (c *Cache[T]) Stats() Stats {
	m := c.impl.Metrics
	s := Stats{
		Name:         c.name,
		Hits:         m.Hits(),
		Misses:       m.Misses(),
		KeysAdded:    m.KeysAdded(),
		KeysEvicted:  m.KeysEvicted(),
		SetsDropped:  m.SetsDropped(),
		SetsRejected: m.SetsRejected(),
		CostAdded:    m.CostAdded(),
		CostEvicted:  m.CostEvicted(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}
