package websearch

import (
	"sync"
	"time"
)

// searchCache memoizes search results per normalized query with a TTL.
// The clock is injected so tests can advance time deterministically.
type searchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	urls       []string
	insertedAt time.Time
}

func newSearchCache(ttl time.Duration, now func() time.Time) *searchCache {
	if now == nil {
		now = time.Now
	}
	return &searchCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *searchCache) get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	out := make([]string, len(e.urls))
	copy(out, e.urls)
	return out, true
}

func (c *searchCache) put(key string, urls []string) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{urls: urls, insertedAt: c.now()}
	c.mu.Unlock()
}
