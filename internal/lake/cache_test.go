package lake

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func somePartitions(collection string, n int) []Partition {
	parts := make([]Partition, n)
	for i := range parts {
		parts[i] = Partition{
			Collection: collection,
			Key:        fmt.Sprintf("%s/%s_batch_%d_20240101_120000.parquet", collection, collection, i+1),
			Size:       1024,
		}
	}
	return parts
}

func TestListingCache_GetSet(t *testing.T) {
	cache := NewListingCache(time.Minute, 100)

	// Initially should miss
	_, ok := cache.Get("transactions_cleaned")
	if ok {
		t.Error("expected cache miss on empty cache")
	}

	parts := somePartitions("transactions_cleaned", 3)
	cache.Set("transactions_cleaned", parts)

	got, ok := cache.Get("transactions_cleaned")
	if !ok {
		t.Error("expected cache hit after Set")
	}
	if len(got) != 3 {
		t.Errorf("got %d partitions, want 3", len(got))
	}
	if got[0].Key != parts[0].Key {
		t.Errorf("got %q, want %q", got[0].Key, parts[0].Key)
	}

	// Different collection should miss
	_, ok = cache.Get("transactions_raw")
	if ok {
		t.Error("expected cache miss for different collection")
	}
}

func TestListingCache_Expiration(t *testing.T) {
	cache := NewListingCache(10*time.Millisecond, 100)

	cache.Set("orders", somePartitions("orders", 1))

	_, ok := cache.Get("orders")
	if !ok {
		t.Error("expected cache hit before expiration")
	}

	time.Sleep(15 * time.Millisecond)

	_, ok = cache.Get("orders")
	if ok {
		t.Error("expected cache miss after expiration")
	}
}

func TestListingCache_MaxSize(t *testing.T) {
	cache := NewListingCache(time.Minute, 32)

	for i := 0; i < 64; i++ {
		name := fmt.Sprintf("collection_%d", i)
		cache.Set(name, somePartitions(name, 1))
	}

	// Entries colliding into a full shard are skipped, never evicted live
	if cache.Size() > 32 {
		t.Errorf("cache exceeded max size: %d > 32", cache.Size())
	}
}

func TestListingCache_Invalidate(t *testing.T) {
	cache := NewListingCache(time.Minute, 100)

	cache.Set("a", somePartitions("a", 1))
	cache.Set("b", somePartitions("b", 1))

	if cache.Size() != 2 {
		t.Errorf("expected size 2, got %d", cache.Size())
	}

	cache.Invalidate()

	if cache.Size() != 0 {
		t.Errorf("expected size 0 after invalidate, got %d", cache.Size())
	}

	_, ok := cache.Get("a")
	if ok {
		t.Error("expected cache miss after invalidate")
	}
}

func TestListingCache_InvalidateCollection(t *testing.T) {
	cache := NewListingCache(time.Minute, 100)

	cache.Set("a", somePartitions("a", 1))
	cache.Set("b", somePartitions("b", 1))

	cache.InvalidateCollection("a")

	if _, ok := cache.Get("a"); ok {
		t.Error("expected miss for invalidated collection")
	}
	if _, ok := cache.Get("b"); !ok {
		t.Error("expected other collection to survive")
	}
}

func TestListingCache_Cleanup(t *testing.T) {
	cache := NewListingCache(10*time.Millisecond, 100)

	cache.Set("a", somePartitions("a", 1))
	cache.Set("b", somePartitions("b", 1))

	time.Sleep(15 * time.Millisecond)

	removed := cache.Cleanup()
	if removed != 2 {
		t.Errorf("expected 2 entries cleaned up, got %d", removed)
	}
	if cache.Size() != 0 {
		t.Errorf("expected size 0 after cleanup, got %d", cache.Size())
	}
}

func TestListingCache_Stats(t *testing.T) {
	cache := NewListingCache(time.Minute, 100)

	cache.Set("a", somePartitions("a", 1))
	cache.Get("a") // hit
	cache.Get("a") // hit
	cache.Get("b") // miss

	stats := cache.Stats()

	if stats["cache_hits"].(int64) != 2 {
		t.Errorf("expected 2 hits, got %d", stats["cache_hits"])
	}
	if stats["cache_misses"].(int64) != 1 {
		t.Errorf("expected 1 miss, got %d", stats["cache_misses"])
	}
	if stats["cache_size"].(int) != 1 {
		t.Errorf("expected size 1, got %d", stats["cache_size"])
	}
}

func TestListingCache_Concurrent(t *testing.T) {
	cache := NewListingCache(time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("collection_%d", n%10)
			cache.Set(name, somePartitions(name, 2))
			cache.Get(name)
		}(i)
	}
	wg.Wait()

	if cache.Size() == 0 {
		t.Error("expected some entries after concurrent access")
	}
}

func BenchmarkListingCache_Get(b *testing.B) {
	cache := NewListingCache(time.Minute, 10000)
	cache.Set("transactions_cleaned", somePartitions("transactions_cleaned", 50))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("transactions_cleaned")
	}
}
