package footage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/cueframe/internal/models"
	"github.com/go-redis/redis/v8"
)

// Cache stores resolved clips by key. Get returns ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis string keys.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// missMarker records a negative lookup so repeated cues don't hit the provider again.
const missMarker = "null"

// CachedResolver puts a Cache in front of another Resolver. Cache failures are
// logged and bypassed; they never fail a lookup.
type CachedResolver struct {
	next    Resolver
	cache   Cache
	ttl     time.Duration
	missTTL time.Duration
}

func NewCachedResolver(next Resolver, cache Cache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		missTTL: ttl / 24,
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, q Query) (*models.ClipRef, error) {
	key := CacheKey(q)

	if data, ok, err := r.cache.Get(ctx, key); err != nil {
		log.Printf("[Footage] Cache read failed for %q: %v", q.Text, err)
	} else if ok {
		if string(data) == missMarker {
			return nil, nil
		}
		var ref models.ClipRef
		if err := json.Unmarshal(data, &ref); err == nil {
			ref.Source = "cache"
			return &ref, nil
		}
		log.Printf("[Footage] Ignoring corrupt cache entry %s", key)
	}

	ref, err := r.next.Resolve(ctx, q)
	if err != nil {
		// Provider errors are not cached; the next run retries.
		return nil, err
	}

	value, ttl := []byte(missMarker), r.missTTL
	if ref != nil {
		data, err := json.Marshal(ref)
		if err != nil {
			return ref, nil
		}
		value, ttl = data, r.ttl
	}
	if err := r.cache.Set(ctx, key, value, ttl); err != nil {
		log.Printf("[Footage] Cache write failed for %q: %v", q.Text, err)
	}

	return ref, nil
}

// CacheKey derives the cache key from the normalized query text and its filters.
func CacheKey(q Query) string {
	filters, _ := json.Marshal(q.Filters)
	sum := sha1.Sum([]byte(normalize(q.Text) + "\x00" + string(filters)))
	return fmt.Sprintf("cue:%s", hex.EncodeToString(sum[:]))
}
