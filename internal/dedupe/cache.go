// ABOUTME: Thread-safe TTL cache that claims request keys for idempotent turn handling.
// ABOUTME: A re-posted message id within the window returns the value of its first claim.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is the claim window used when none is configured.
const DefaultTTL = 10 * time.Minute

// DefaultMaxSize bounds the number of live claims when none is configured.
const DefaultMaxSize = 10000

type cacheEntry[V any] struct {
	value   V
	claimed time.Time
	element *list.Element
}

// Cache maps claimed keys to the value recorded by the first claimant.
// Entries expire after the TTL; when full, the oldest claim is evicted.
type Cache[V any] struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry[V]
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	now             func() time.Time
	cleanupInterval time.Duration
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithCleanupInterval sets how often expired claims are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// New creates a cache. Non-positive ttl or maxSize select the defaults.
// A background goroutine purges expired entries until Close.
func New[V any](ttl time.Duration, maxSize int, opts ...Option) *Cache[V] {
	cfg := config{now: time.Now, cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	c := &Cache[V]{
		seen:    make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     cfg.now,
		done:    make(chan struct{}),
	}
	go c.cleanup(cfg.cleanupInterval)
	return c
}

// Claim records value under key unless a live claim exists. It returns the
// claimed value and whether key was already claimed. The check and the
// claim happen under one lock.
func (c *Cache[V]) Claim(key string, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.claimed) < c.ttl {
			return entry.value, true
		}
		c.removeLocked(key, entry)
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &cacheEntry[V]{
		value:   value,
		claimed: now,
		element: c.order.PushBack(key),
	}
	return value, false
}

// Lookup returns the value of a live claim.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok || c.now().Sub(entry.claimed) >= c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set replaces the value of a live claim. It reports false when key holds
// no live claim.
func (c *Cache[V]) Set(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok || c.now().Sub(entry.claimed) >= c.ttl {
		return false
	}
	entry.value = value
	return true
}

// Release drops the claim on key so a retry is treated as new.
func (c *Cache[V]) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.seen[key]; ok {
		c.removeLocked(key, entry)
	}
}

// Len returns the number of stored claims, including expired ones not yet purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache[V]) removeLocked(key string, entry *cacheEntry[V]) {
	c.order.Remove(entry.element)
	delete(c.seen, key)
}

// evictOldest removes the oldest claim. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-c.done:
			return
		}
	}
}

// Purge removes every expired claim.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.claimed) >= c.ttl {
			c.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
