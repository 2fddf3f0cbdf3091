// ABOUTME: Sliding-TTL, capacity-bounded LRU cache of compiled searches
// ABOUTME: Every access refreshes the TTL; expiry is checked lazily on lookup

package search

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	cs         *CompiledSearch
	lastAccess time.Time
}

// cache bounds live searches by capacity (LRU beyond it) and by a sliding
// TTL from last access. The LRU core handles recency and the cap; the TTL
// bookkeeping lives in the entries, checked on every lookup.
type cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *entry]
	ttl     time.Duration
	onEvict func()
}

func newCache(capacity int, ttl time.Duration, onEvict func()) (*cache, error) {
	c := &cache{ttl: ttl, onEvict: onEvict}
	inner, err := lru.NewWithEvict[string, *entry](capacity, func(string, *entry) {
		if c.onEvict != nil {
			c.onEvict()
		}
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

func (c *cache) add(cs *CompiledSearch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(cs.ID, &entry{cs: cs, lastAccess: time.Now()})
}

// get returns the cached search and refreshes its TTL. An entry past its
// sliding TTL is removed and reported as missing.
func (c *cache) get(id string) (*CompiledSearch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	now := time.Now()
	if now.Sub(e.lastAccess) > c.ttl {
		c.lru.Remove(id)
		return nil, false
	}
	e.lastAccess = now
	return e.cs, true
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
