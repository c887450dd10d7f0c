// Package cache implements an in-process TTL cache with request collapsing.
//
// Concurrent misses for one key share a single fetch. Expired entries are
// dropped lazily on read and in bulk by Sweep.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when an entry is stored with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value   any
	expires time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	// gen is bumped by every invalidation so a fetch that started before it
	// does not store its now stale result.
	gen atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the live value stored under key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	c.gen.Add(1)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats returns usage counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// GetOrFetch returns the cached value of key, or calls fetch once for all
// concurrent callers missing the same key and caches its result for ttl.
// Errors are not cached. The fetch runs detached from ctx cancellation but
// keeps its values.
func GetOrFetch[V any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(V); ok {
			return typed, nil
		}
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		gen := c.gen.Load()
		// Shared by every waiter, so one caller's cancellation must not
		// fail the others.
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if c.gen.Load() == gen {
			c.Set(key, v, ttl)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	typed, ok := res.(V)
	if !ok {
		var zero V
		return zero, errors.Errorf("cache: key %q holds %T", key, res)
	}
	return typed, nil
}
