package footage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/cueframe/internal/models"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	failGet bool
	failSet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("connection refused")
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("connection refused")
	}
	c.entries[key] = value
	c.ttls[key] = ttl
	return nil
}

type countingResolver struct {
	calls int
	ref   *models.ClipRef
	err   error
}

func (r *countingResolver) Resolve(ctx context.Context, q Query) (*models.ClipRef, error) {
	r.calls++
	return r.ref, r.err
}

func TestCachedResolverHit(t *testing.T) {
	cache := newMemoryCache()
	next := &countingResolver{ref: &models.ClipRef{URL: "https://clips.test/a.mp4", DurationSeconds: 5, Source: "scout"}}
	r := NewCachedResolver(next, cache, 24*time.Hour)

	q := NewQuery("Show the old town")
	first, err := r.Resolve(context.Background(), q)
	if err != nil || first == nil {
		t.Fatalf("first resolve: %+v, %v", first, err)
	}
	second, err := r.Resolve(context.Background(), q)
	if err != nil || second == nil {
		t.Fatalf("second resolve: %+v, %v", second, err)
	}

	if next.calls != 1 {
		t.Errorf("expected provider called once, got %d", next.calls)
	}
	if second.URL != first.URL || second.DurationSeconds != 5 {
		t.Errorf("cached ref differs: %+v", second)
	}
	if second.Source != "cache" {
		t.Errorf("expected cache source, got %q", second.Source)
	}
	if ttl := cache.ttls[CacheKey(q)]; ttl != 24*time.Hour {
		t.Errorf("expected hit ttl 24h, got %v", ttl)
	}
}

func TestCachedResolverCachesMisses(t *testing.T) {
	cache := newMemoryCache()
	next := &countingResolver{}
	r := NewCachedResolver(next, cache, 24*time.Hour)

	q := NewQuery("Show nothing in particular")
	for i := 0; i < 3; i++ {
		ref, err := r.Resolve(context.Background(), q)
		if err != nil || ref != nil {
			t.Fatalf("expected miss, got %+v, %v", ref, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected one provider call, got %d", next.calls)
	}
	if ttl := cache.ttls[CacheKey(q)]; ttl != time.Hour {
		t.Errorf("expected miss ttl 1h, got %v", ttl)
	}
}

func TestCachedResolverDoesNotCacheErrors(t *testing.T) {
	cache := newMemoryCache()
	next := &countingResolver{err: errors.New("timeout")}
	r := NewCachedResolver(next, cache, time.Hour)

	q := NewQuery("Show rain")
	if _, err := r.Resolve(context.Background(), q); err == nil {
		t.Fatal("expected provider error")
	}
	if len(cache.entries) != 0 {
		t.Errorf("errors must not be cached: %v", cache.entries)
	}
}

func TestCachedResolverBypassesBrokenCache(t *testing.T) {
	cache := newMemoryCache()
	cache.failGet = true
	cache.failSet = true
	next := &countingResolver{ref: &models.ClipRef{URL: "https://clips.test/b.mp4"}}
	r := NewCachedResolver(next, cache, time.Hour)

	ref, err := r.Resolve(context.Background(), NewQuery("Show bridge"))
	if err != nil {
		t.Fatalf("cache failure leaked: %v", err)
	}
	if ref == nil || ref.URL != "https://clips.test/b.mp4" {
		t.Errorf("expected provider result, got %+v", ref)
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(NewQuery("Show  Big Ben"))
	b := CacheKey(NewQuery("show big ben"))
	if a != b {
		t.Errorf("expected normalized keys to match: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "cue:") {
		t.Errorf("unexpected key prefix: %s", a)
	}

	q := NewQuery("show big ben")
	q.Filters.MinQuality = 0.5
	if CacheKey(q) == a {
		t.Error("filters should be part of the key")
	}
}
