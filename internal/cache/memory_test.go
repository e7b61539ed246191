package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestTTLCacheGetSet(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string](WithClock(clock.Now))

	_, ok := c.Get("vitals:last_day")
	assert.False(t, ok)

	c.Set("vitals:last_day", "a", time.Minute)
	v, ok := c.Get("vitals:last_day")
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.True(t, c.Has("vitals:last_day"))
	assert.False(t, c.Has("hrv:last_day"))

	c.Set("vitals:last_day", "b", time.Minute)
	v, _ = c.Get("vitals:last_day")
	assert.Equal(t, "b", v, "a new set replaces the entry")
}

func TestTTLCacheZeroTTLIsMiss(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[int](WithClock(clock.Now))

	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is evicted on read")

	c.Set("neg", 1, -time.Second)
	assert.False(t, c.Has("neg"))
}

func TestTTLCacheLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[int](WithClock(clock.Now))

	c.Set("k", 1, 30*time.Second)
	clock.Advance(29 * time.Second)
	assert.True(t, c.Has("k"))

	clock.Advance(time.Second)
	assert.False(t, c.Has("k"))
	assert.Zero(t, c.Len())
}

func TestTTLCacheDeleteClear(t *testing.T) {
	c := NewTTLCache[int]()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Delete("a")
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestTTLCacheSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[int](WithClock(clock.Now))

	for i := 0; i < 200; i++ {
		c.Set(fmt.Sprintf("short:%d", i), i, time.Second)
	}
	c.Set("long", 1, time.Hour)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 201, c.Len(), "nothing is removed before a sweep or read")
	assert.Equal(t, 200, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Has("long"))
}

func TestTTLCacheBackgroundSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[int](WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))

	c.Set("k", 1, time.Second)
	clock.Advance(time.Minute)

	c.Start()
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTTLCacheStopIsIdempotent(t *testing.T) {
	c := NewTTLCache[int](WithSweepInterval(time.Millisecond))
	c.Stop()
	c.Start()
	c.Stop()
	c.Stop()
	c.Start()
	c.Stop()
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int](WithSweepInterval(time.Millisecond))
	c.Start()
	defer c.Stop()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("w%d:%d", w, i%10)
				c.Set(key, i, time.Duration(i%3)*time.Millisecond)
				c.Get(key)
				c.Set("shared", w, time.Minute)
			}
		}(w)
	}
	wg.Wait()

	v, ok := c.Get("shared")
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0)
	assert.Less(t, v, 8)
}
