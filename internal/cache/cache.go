// Package cache implements the short-lived analysis result cache.
package cache

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/godseye/insight/internal/analysis"
)

const (
	// DefaultFreshFor is how long an entry stays readable after storage.
	DefaultFreshFor = 5 * time.Minute
	// DefaultRetainFor bounds how long an expired entry may linger before a
	// sweep removes it.
	DefaultRetainFor = 60 * time.Minute
)

type entry struct {
	result   analysis.Result
	storedAt time.Time
}

// Cache maps normalized page keys to previously computed results. Entries are
// readable for FreshFor after storage and are evicted lazily on read or by
// the sweep that runs on every Put. Concurrent Puts for the same key are
// last-write-wins; entries never survive a process restart.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]entry
	clock     analysis.Clock
	freshFor  time.Duration
	retainFor time.Duration

	hits   uint64
	misses uint64
}

// Option tweaks cache construction.
type Option func(*Cache)

// WithHorizons overrides the fresh/retain windows.
func WithHorizons(freshFor, retainFor time.Duration) Option {
	return func(c *Cache) {
		if freshFor > 0 {
			c.freshFor = freshFor
		}
		if retainFor > 0 {
			c.retainFor = retainFor
		}
	}
}

// New constructs a Cache with the default horizons.
func New(clock analysis.Clock, opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[string]entry),
		clock:     clock,
		freshFor:  DefaultFreshFor,
		retainFor: DefaultRetainFor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key normalizes a page URL to its cache identity: lowercased host plus path,
// query and fragment stripped. Two URLs differing only in query string
// collide intentionally. Unparseable input falls back to the raw string.
func Key(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return strings.ToLower(u.Host) + u.Path
}

// Get returns the cached result for the key if one is still fresh. A stale
// entry is deleted on the way out.
func (c *Cache) Get(key string) (analysis.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return analysis.Result{}, false
	}
	if c.clock.Now().Sub(e.storedAt) >= c.freshFor {
		delete(c.entries, key)
		c.misses++
		return analysis.Result{}, false
	}
	c.hits++
	return e.result, true
}

// Put stores a result under the key and opportunistically sweeps entries past
// the retention horizon.
func (c *Cache) Put(key string, result analysis.Result) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{result: result, storedAt: now}
	c.sweepLocked(now)
}

// Sweep removes all entries older than the retention horizon.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.clock.Now())
}

// Len reports the number of retained entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) sweepLocked(now time.Time) {
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.retainFor {
			delete(c.entries, key)
		}
	}
}
