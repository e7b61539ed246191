package cache

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are removed eagerly.
const DefaultSweepInterval = time.Minute

// sweepBatch bounds how many keys one sweep removes per write lock.
const sweepBatch = 64

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is an in-memory key/value store with per-entry expiry. Expired
// entries are dropped when read and by a background sweep started with
// Start. It is safe for concurrent use; concurrent writes to one key are
// last-write-wins.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]

	now      func() time.Time
	interval time.Duration
	logger   *slog.Logger

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

type Option func(*options)

type options struct {
	now      func() time.Time
	interval time.Duration
	logger   *slog.Logger
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func NewTTLCache[V any](opts ...Option) *TTLCache[V] {
	o := options{now: time.Now, interval: DefaultSweepInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[V]{
		items:    make(map[string]entry[V]),
		now:      o.now,
		interval: o.interval,
		logger:   o.logger,
	}
}

// Set stores value under key for ttl, replacing any previous entry. A ttl
// of zero or less stores an entry that is already expired.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Get returns the value for key. An entry whose expiry has been reached is
// removed and reported as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().Before(e.expiresAt) {
		return e.value, true
	}

	c.mu.Lock()
	if cur, ok := c.items[key]; ok && !c.now().Before(cur.expiresAt) {
		delete(c.items, key)
	}
	c.mu.Unlock()
	return zero, false
}

func (c *TTLCache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry[V])
}

// Len counts stored entries, including expired ones not yet swept.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *TTLCache[V]) Sweep() int {
	now := c.now()

	c.mu.RLock()
	var expired []string
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	c.mu.RUnlock()

	removed := 0
	for len(expired) > 0 {
		n := min(sweepBatch, len(expired))
		c.mu.Lock()
		for _, k := range expired[:n] {
			// The key may have been refreshed since it was collected.
			if e, ok := c.items[k]; ok && !now.Before(e.expiresAt) {
				delete(c.items, k)
				removed++
			}
		}
		c.mu.Unlock()
		expired = expired[n:]
	}
	return removed
}

// Start runs the periodic sweep until Stop is called. Calling Start on a
// running cache does nothing.
func (c *TTLCache[V]) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

// Stop halts the sweep and waits for it to exit.
func (c *TTLCache[V]) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

func (c *TTLCache[V]) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache sweep", "removed", n, "remaining", c.Len())
			}
		}
	}
}
