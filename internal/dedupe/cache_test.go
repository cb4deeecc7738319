// ABOUTME: Tests for the dedupe claim cache.
// ABOUTME: Validates TTL expiry, value updates, release, eviction order, purging, and concurrent claims.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache[string], *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string](ttl, size, WithClock(clk.Now))
	t.Cleanup(c.Close)
	return c, clk
}

func TestCache_ClaimNewKey(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	v, dup := c.Claim("msg-1", "conv-a")
	assert.False(t, dup)
	assert.Equal(t, "conv-a", v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ClaimDuplicateReturnsFirstValue(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.Claim("msg-1", "conv-a")
	v, dup := c.Claim("msg-1", "conv-b")
	assert.True(t, dup)
	assert.Equal(t, "conv-a", v)
}

func TestCache_ClaimAfterExpiry(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.Claim("msg-1", "conv-a")
	clk.Advance(time.Minute)

	_, ok := c.Lookup("msg-1")
	assert.False(t, ok)

	v, dup := c.Claim("msg-1", "conv-b")
	assert.False(t, dup)
	assert.Equal(t, "conv-b", v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_SetReplacesLiveClaim(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	assert.False(t, c.Set("msg-1", "conv-a"), "no claim to update")

	c.Claim("msg-1", "")
	require.True(t, c.Set("msg-1", "conv-a"))
	v, dup := c.Claim("msg-1", "conv-b")
	assert.True(t, dup)
	assert.Equal(t, "conv-a", v)

	clk.Advance(time.Minute)
	assert.False(t, c.Set("msg-1", "conv-c"), "expired claims are not revived")
}

func TestCache_Release(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.Claim("msg-1", "conv-a")
	c.Release("msg-1")
	c.Release("never-claimed")

	_, dup := c.Claim("msg-1", "conv-b")
	assert.False(t, dup)
}

func TestCache_EvictionOrder(t *testing.T) {
	c, clk := newTestCache(t, time.Hour, 3)

	for i := range 3 {
		c.Claim(fmt.Sprintf("k%d", i), "v")
		clk.Advance(time.Second)
	}
	c.Claim("k3", "v")

	assert.Equal(t, 3, c.Len())
	_, ok := c.Lookup("k0")
	assert.False(t, ok, "oldest claim evicted")
	for _, k := range []string{"k1", "k2", "k3"} {
		_, ok := c.Lookup(k)
		assert.True(t, ok, k)
	}
}

func TestCache_Purge(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.Claim("old", "v")
	clk.Advance(45 * time.Second)
	c.Claim("new", "v")
	clk.Advance(30 * time.Second)

	c.Purge()
	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup("new")
	assert.True(t, ok)
}

func TestCache_BackgroundCleanup(t *testing.T) {
	c := New[int](10*time.Millisecond, 10, WithCleanupInterval(5*time.Millisecond))
	defer c.Close()

	c.Claim("k", 1)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_Defaults(t *testing.T) {
	c := New[int](0, 0)
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestCache_ConcurrentClaimsSingleWinner(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, dup := c.Claim("same", fmt.Sprint(i)); !dup {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New[string](time.Minute, 10)
	c.Close()
	assert.NotPanics(t, c.Close)
}
