// Package cache memoizes resolution results per account for a bounded
// window. It lives outside the engine: the engine stays stateless and the
// HTTP layer is responsible for invalidating entries whenever an input
// changes (institution assignment, IP range, order, grant revocation).
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"medview.org/internal/access"
)

// Config bounds the cache.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// Stats are simple counters for diagnostics.
type Stats struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Size      int           `json:"size"`
	TTL       time.Duration `json:"ttl"`
}

// ResultCache is a TTL cache of AccessType values keyed by account id.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

type entry struct {
	result   access.AccessType
	cachedAt time.Time
}

// New creates a ResultCache with defaulted bounds.
func New(cfg Config) *ResultCache {
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 10000
	}
	return &ResultCache{
		entries: make(map[string]*entry),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     time.Now,
	}
}

// SetClock overrides the time source (useful for tests).
func (c *ResultCache) SetClock(fn func() time.Time) {
	if fn != nil {
		c.now = fn
	}
}

// Get returns a cached result that is still inside the TTL window.
func (c *ResultCache) Get(accountID string) (access.AccessType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[accountID]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return access.AccessType{}, false
	}
	if c.now().Sub(e.cachedAt) > c.ttl {
		delete(c.entries, accountID)
		atomic.AddInt64(&c.misses, 1)
		return access.AccessType{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return e.result, true
}

// Set stores a result, evicting an arbitrary entry when full.
func (c *ResultCache) Set(accountID string, result access.AccessType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[accountID]; !exists && len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			atomic.AddInt64(&c.evictions, 1)
			break
		}
	}
	c.entries[accountID] = &entry{result: result, cachedAt: c.now()}
	atomic.AddInt64(&c.sets, 1)
}

// Invalidate drops the entry for one account.
func (c *ResultCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.entries[accountID]; existed {
		delete(c.entries, accountID)
		atomic.AddInt64(&c.deletes, 1)
	}
}

// InvalidateAll drops every entry. Used after reference-data writes (IP
// ranges, orders) whose account fan-out is unknown.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.entries); n > 0 {
		atomic.AddInt64(&c.deletes, int64(n))
	}
	c.entries = make(map[string]*entry)
}

// Len returns the number of live entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats snapshots the counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
		TTL:       c.ttl,
	}
}
