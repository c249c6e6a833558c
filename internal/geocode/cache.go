package geocode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMemoryEntries bounds a MemoryCache created with a non-positive limit.
const DefaultMemoryEntries = 4096

type memoryEntry struct {
	address string
	stored  time.Time
	expires time.Time
}

// MemoryCache is a process-local address cache holding at most limit
// entries. When full, expired entries are swept first, then the oldest
// write is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	limit   int
	now     func() time.Time
}

func NewMemoryCache(limit int) *MemoryCache {
	if limit <= 0 {
		limit = DefaultMemoryEntries
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), limit: limit, now: time.Now}
}

// Len returns the number of entries held, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.address, true, nil
}

// Set stores an address. A zero ttl never expires.
func (c *MemoryCache) Set(ctx context.Context, key, address string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.limit {
		c.makeRoomLocked(now)
	}
	e := memoryEntry{address: address, stored: now}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) makeRoomLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.stored.Before(oldest) {
			oldestKey, oldest = k, e.stored
		}
	}
	if len(c.entries) >= c.limit && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// RedisCache shares resolved addresses between processes.
type RedisCache struct {
	redis *redis.Client
}

func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{redis: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, address string, ttl time.Duration) error {
	return c.redis.Set(ctx, key, address, ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.redis.Close()
}
