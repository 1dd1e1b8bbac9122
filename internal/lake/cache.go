package lake

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultListingTTL bounds how long a cached partition listing is served
// before the backend is consulted again.
const DefaultListingTTL = 60 * time.Second

// DefaultListingMaxSize is the default maximum number of cached collections.
const DefaultListingMaxSize = 1024

// listingShardCount is the number of shards to distribute lock contention.
const listingShardCount = 16

// listingEntry is one cached partition listing with expiration.
type listingEntry struct {
	partitions []Partition
	expiresAt  time.Time
}

// listingShard is a single shard of the cache with its own lock.
type listingShard struct {
	mu      sync.RWMutex
	entries map[string]listingEntry
}

// ListingCache is a sharded TTL cache for partition listings keyed by
// collection name. Object listings against S3 or Azure cost one round
// trip per page, and queries hit the same few collections over and over,
// so a short TTL absorbs almost all of that traffic. The cache is
// invalidated wholesale on catalog refresh and per collection after a
// lake write.
type ListingCache struct {
	shards    [listingShardCount]*listingShard
	ttl       time.Duration
	maxSize   int // total across all shards
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewListingCache creates a listing cache with the given TTL and max size.
// Non-positive arguments fall back to the defaults.
func NewListingCache(ttl time.Duration, maxSize int) *ListingCache {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultListingMaxSize
	}

	c := &ListingCache{
		ttl:     ttl,
		maxSize: maxSize,
	}
	for i := 0; i < listingShardCount; i++ {
		c.shards[i] = &listingShard{
			entries: make(map[string]listingEntry),
		}
	}
	return c
}

func (c *ListingCache) getShard(collection string) *listingShard {
	h := fnv.New32a()
	h.Write([]byte(collection))
	return c.shards[h.Sum32()%listingShardCount]
}

// Get returns the cached listing for a collection if it hasn't expired.
// The returned slice is shared; callers must not mutate it.
func (c *ListingCache) Get(collection string) ([]Partition, bool) {
	shard := c.getShard(collection)

	shard.mu.RLock()
	entry, ok := shard.entries[collection]
	shard.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.partitions, true
}

// Set stores a partition listing for a collection.
func (c *ListingCache) Set(collection string, partitions []Partition) {
	shard := c.getShard(collection)

	shard.mu.Lock()

	maxPerShard := c.maxSize / listingShardCount
	if maxPerShard < 1 {
		maxPerShard = 1
	}

	if len(shard.entries) >= maxPerShard {
		// Probabilistic eviction: drop up to 10 expired entries instead
		// of scanning the whole shard while holding the lock.
		now := time.Now()
		evicted := 0
		for key, entry := range shard.entries {
			if now.After(entry.expiresAt) {
				delete(shard.entries, key)
				evicted++
				if evicted >= 10 {
					break
				}
			}
		}
		c.evictions.Add(int64(evicted))

		// Still full means every entry is live; skip caching this one.
		if len(shard.entries) >= maxPerShard {
			shard.mu.Unlock()
			return
		}
	}

	shard.entries[collection] = listingEntry{
		partitions: partitions,
		expiresAt:  time.Now().Add(c.ttl),
	}
	shard.mu.Unlock()
}

// Invalidate removes all entries from the cache.
func (c *ListingCache) Invalidate() {
	for i := 0; i < listingShardCount; i++ {
		shard := c.shards[i]
		shard.mu.Lock()
		shard.entries = make(map[string]listingEntry)
		shard.mu.Unlock()
	}
}

// InvalidateCollection removes the listing of one collection, typically
// right after a new partition was written to it.
func (c *ListingCache) InvalidateCollection(collection string) {
	shard := c.getShard(collection)
	shard.mu.Lock()
	delete(shard.entries, collection)
	shard.mu.Unlock()
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *ListingCache) Cleanup() int {
	now := time.Now()
	totalRemoved := 0

	for i := 0; i < listingShardCount; i++ {
		shard := c.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if now.After(entry.expiresAt) {
				delete(shard.entries, key)
				totalRemoved++
			}
		}
		shard.mu.Unlock()
	}

	return totalRemoved
}

// Stats returns cache statistics as a map.
func (c *ListingCache) Stats() map[string]interface{} {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"cache_size":       c.Size(),
		"cache_max_size":   c.maxSize,
		"cache_shards":     listingShardCount,
		"cache_hits":       hits,
		"cache_misses":     misses,
		"hit_rate_percent": hitRate,
		"evictions":        c.evictions.Load(),
		"ttl_seconds":      c.ttl.Seconds(),
	}
}

// Size returns the current number of cached listings.
func (c *ListingCache) Size() int {
	totalSize := 0
	for i := 0; i < listingShardCount; i++ {
		shard := c.shards[i]
		shard.mu.RLock()
		totalSize += len(shard.entries)
		shard.mu.RUnlock()
	}
	return totalSize
}
