// Package retrieval finds evidence for a topic: hybrid search over the
// indexed chapter corpus, and external literature search over PubMed
// and AI web research.
package retrieval

import (
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long external query responses stay fresh.
const DefaultCacheTTL = 24 * time.Hour

// QueryCache is a process-local TTL cache for external search payloads.
// Keys are normalized query strings (plus caller-supplied parameters);
// only successful responses are stored.
type QueryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry

	now func() time.Time // test hook
}

type cacheEntry struct {
	payload   []byte
	fetchedAt time.Time
}

// NewQueryCache creates a cache with the given TTL (DefaultCacheTTL
// when zero).
func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &QueryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached payload for a key, bit-identical to what was
// stored, or nil on miss or expiry.
func (c *QueryCache) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.fetchedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	return entry.payload
}

// Set stores a payload under a key with the current timestamp.
func (c *QueryCache) Set(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{payload: payload, fetchedAt: c.now()}
}

// Len reports live (unexpired) entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, entry := range c.entries {
		if c.now().Sub(entry.fetchedAt) > c.ttl {
			delete(c.entries, key)
			continue
		}
		n++
	}
	return n
}

// NormalizeQuery canonicalizes a query for cache keying: lowercase,
// collapsed whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
