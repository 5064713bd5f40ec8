// Package ttlcache implements a sliding-expiration cache used by the
// dispatcher to track in-flight waiters by correlation id. Every successful
// lookup resets the entry's expiration, and a background sweep evicts
// entries that have gone quiet for longer than the configured TTL, invoking
// a release hook exactly once per entry, whether it is evicted by the sweep
// or removed explicitly.
//
// No third-party TTL cache is reachable from this module's dependency
// stack, so this is built directly on sync.Mutex and time.Ticker.
package ttlcache

import (
	"sync"
	"time"
)

// ReleaseFunc is invoked exactly once for every entry that leaves the
// cache, whether by explicit removal, sweep eviction, or Close.
type ReleaseFunc[V any] func(key string, value V)

// Cache is a sliding-expiration map keyed by string, holding values of type
// V. The zero value is not usable; construct with New.
type Cache[V any] struct {
	ttl      time.Duration
	sweep    time.Duration
	release  ReleaseFunc[V]
	now      func() time.Time
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	entries map[string]*entry[V]
	closed  bool
}

type entry[V any] struct {
	value      V
	expiresAt  time.Time
}

// Option configures a Cache at construction time.
type Option[V any] func(*Cache[V])

// WithRelease sets the hook invoked when an entry leaves the cache.
func WithRelease[V any](fn ReleaseFunc[V]) Option[V] {
	return func(c *Cache[V]) { c.release = fn }
}

// WithSweepInterval overrides the background sweep's polling interval.
// The default is ttl/2; a non-positive interval is replaced with one
// millisecond.
func WithSweepInterval[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) { c.sweep = d }
}

// withClock overrides the time source; used by tests.
func withClock[V any](fn func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = fn }
}

// New creates a Cache with the given sliding-expiration TTL and starts its
// background sweep goroutine. Call Close to stop the sweep and release all
// remaining entries.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		sweep:   ttl / 2,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		entries: make(map[string]*entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweep <= 0 {
		c.sweep = time.Millisecond
	}
	go c.sweepLoop()
	return c
}

// TryAdd inserts value under key if no entry currently exists for it. It
// reports whether the insertion happened; a false return means a waiter is
// already registered for that correlation id, or the cache has been closed.
func (c *Cache[V]) TryAdd(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = &entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	return true
}

// TryGet looks up key, sliding its expiration forward on a hit.
func (c *Cache[V]) TryGet(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e.expiresAt = c.now().Add(c.ttl)
	return e.value, true
}

// TryRemove deletes key, invoking the release hook if an entry was present.
// It reports whether an entry was removed.
func (c *Cache[V]) TryRemove(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok && c.release != nil {
		c.release(key, e.value)
	}
	return ok
}

// Len returns the number of entries currently held.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweep and releases every remaining entry.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})

	c.mu.Lock()
	c.closed = true
	remaining := c.entries
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()

	if c.release != nil {
		for key, e := range remaining {
			c.release(key, e.value)
		}
	}
}

func (c *Cache[V]) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache[V]) evictExpired() {
	now := c.now()

	c.mu.Lock()
	var expiredKeys []string
	var expiredVals []V
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			expiredKeys = append(expiredKeys, key)
			expiredVals = append(expiredVals, e.value)
		}
	}
	for _, key := range expiredKeys {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.release == nil {
		return
	}
	for i, key := range expiredKeys {
		c.release(key, expiredVals[i])
	}
}
