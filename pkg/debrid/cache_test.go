package debrid

import (
	"fmt"
	"testing"
	"time"
)

func TestUnrestrictCacheHitAndExpiry(t *testing.T) {
	c := newUnrestrictCache(10, 50*time.Millisecond)

	c.Set("link-a", UnrestrictResponse{Download: "https://direct/a"})
	if got, ok := c.Get("link-a"); !ok || got.Download != "https://direct/a" {
		t.Fatalf("expected cache hit, got %+v ok=%v", got, ok)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("link-a"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestUnrestrictCacheEvictsOldestOverLimit(t *testing.T) {
	c := newUnrestrictCache(5, time.Hour)

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("link-%d", i), UnrestrictResponse{Download: fmt.Sprintf("url-%d", i)})
		time.Sleep(2 * time.Millisecond)
	}

	// The sixth insert pushes the cache over its limit and triggers eviction.
	c.Set("link-5", UnrestrictResponse{Download: "url-5"})

	if got := c.Len(); got != 5 {
		t.Fatalf("cache size after eviction = %d, want 5", got)
	}
	if _, ok := c.Get("link-0"); ok {
		t.Fatal("expected the oldest entry to be evicted")
	}
	if _, ok := c.Get("link-5"); !ok {
		t.Fatal("expected the newest entry to survive")
	}
}

func TestUnrestrictCacheEvictPurgesExpiredFirst(t *testing.T) {
	c := newUnrestrictCache(3, 30*time.Millisecond)

	c.Set("old-1", UnrestrictResponse{})
	c.Set("old-2", UnrestrictResponse{})
	time.Sleep(40 * time.Millisecond)
	c.Set("fresh", UnrestrictResponse{Download: "kept"})

	c.Evict()

	if got := c.Len(); got != 1 {
		t.Fatalf("cache size = %d, want only the fresh entry", got)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry should survive eviction")
	}
}
