package debrid

import (
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	// cacheTTL is how long an unrestricted link stays valid in the cache.
	cacheTTL = 1 * time.Hour
	// MaxCacheSize bounds the unrestrict cache; oldest entries are evicted
	// once expired entries have been purged.
	MaxCacheSize = 10000
)

// cacheEntry is a cached unrestrict response with its insertion time.
type cacheEntry struct {
	response UnrestrictResponse
	cachedAt time.Time
}

// unrestrictCache is a bounded TTL cache keyed by restricted link.
type unrestrictCache struct {
	entries cmap.ConcurrentMap[string, *cacheEntry]
	maxSize int
	ttl     time.Duration
}

func newUnrestrictCache(maxSize int, ttl time.Duration) *unrestrictCache {
	if maxSize <= 0 {
		maxSize = MaxCacheSize
	}
	if ttl <= 0 {
		ttl = cacheTTL
	}
	return &unrestrictCache{
		entries: cmap.New[*cacheEntry](),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns a copy of the cached response when present and not expired.
func (c *unrestrictCache) Get(link string) (UnrestrictResponse, bool) {
	entry, ok := c.entries.Get(link)
	if !ok {
		return UnrestrictResponse{}, false
	}
	if time.Since(entry.cachedAt) >= c.ttl {
		c.entries.Remove(link)
		return UnrestrictResponse{}, false
	}
	return entry.response, true
}

// Set inserts a response and opportunistically evicts when the cache grew
// over its limit.
func (c *unrestrictCache) Set(link string, resp UnrestrictResponse) {
	c.entries.Set(link, &cacheEntry{
		response: resp,
		cachedAt: time.Now(),
	})
	if c.entries.Count() > c.maxSize {
		c.Evict()
	}
}

// Len returns the current number of entries.
func (c *unrestrictCache) Len() int {
	return c.entries.Count()
}

// Evict removes expired entries first, then the oldest entries until the
// cache is back under its size limit.
func (c *unrestrictCache) Evict() {
	now := time.Now()
	for item := range c.entries.IterBuffered() {
		if now.Sub(item.Val.cachedAt) >= c.ttl {
			c.entries.Remove(item.Key)
		}
	}

	excess := c.entries.Count() - c.maxSize
	if excess <= 0 {
		return
	}

	type keyed struct {
		key      string
		cachedAt time.Time
	}
	all := make([]keyed, 0, c.entries.Count())
	for item := range c.entries.IterBuffered() {
		all = append(all, keyed{key: item.Key, cachedAt: item.Val.cachedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].cachedAt.Before(all[j].cachedAt) })
	for i := 0; i < excess && i < len(all); i++ {
		c.entries.Remove(all[i].key)
	}
}
