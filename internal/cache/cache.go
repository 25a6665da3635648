// Package cache keeps remote entities around for a bounded time so that
// repeated lookups of the same item do not hit the API.
package cache

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched entity stays valid.
const DefaultTTL = 24 * time.Hour

// FetchFunc loads a missing or stale entity.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Options tune a Cache.
type Options struct {
	TTL   time.Duration
	Clock func() time.Time
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a TTL cache with copy-on-write storage: reads never block, writers retry on conflict.
type Cache[K comparable, V any] struct {
	fetch   FetchFunc[K, V]
	ttl     time.Duration
	now     func() time.Time
	entries atomic.Pointer[map[K]entry[V]]
	flight  singleflight.Group
	keyFn   func(K) string
}

// New builds a cache around fetch. keyFn renders keys for fetch deduplication.
func New[K comparable, V any](fetch FetchFunc[K, V], keyFn func(K) string, opts Options) *Cache[K, V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	c := &Cache[K, V]{fetch: fetch, ttl: ttl, now: now, keyFn: keyFn}
	empty := make(map[K]entry[V])
	c.entries.Store(&empty)
	return c
}

// Get returns the cached value for key, fetching it when absent or expired.
// Fetch errors are returned unchanged and nothing is stored.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}
	res, err, _ := c.flight.Do(c.keyFn(key), func() (any, error) {
		v, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Peek returns a valid cached value without fetching.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	e, ok := (*c.entries.Load())[key]
	if !ok || !c.valid(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value as freshly fetched.
func (c *Cache[K, V]) Put(key K, value V) {
	c.update(func(m map[K]entry[V]) {
		m[key] = entry[V]{value: value, fetchedAt: c.now()}
	})
}

// Evict drops key.
func (c *Cache[K, V]) Evict(key K) {
	c.update(func(m map[K]entry[V]) {
		delete(m, key)
	})
}

// EvictExpired drops every stale entry and reports how many were removed.
func (c *Cache[K, V]) EvictExpired() int {
	removed := 0
	c.update(func(m map[K]entry[V]) {
		removed = 0
		for k, e := range m {
			if !c.valid(e) {
				delete(m, k)
				removed++
			}
		}
	})
	return removed
}

// Len counts stored entries, including stale ones not yet evicted.
func (c *Cache[K, V]) Len() int {
	return len(*c.entries.Load())
}

func (c *Cache[K, V]) valid(e entry[V]) bool {
	return c.now().Sub(e.fetchedAt) < c.ttl
}

func (c *Cache[K, V]) update(mutate func(map[K]entry[V])) {
	for {
		old := c.entries.Load()
		next := maps.Clone(*old)
		mutate(next)
		if c.entries.CompareAndSwap(old, &next) {
			return
		}
	}
}
