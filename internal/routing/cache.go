package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/model-webhooks/internal/domain"
)

// DefaultCacheTTL is how long a topic's subscriber set may be served stale.
const DefaultCacheTTL = time.Minute

// Cache memoizes the unfiltered subscriber set of a topic.
type Cache interface {
	Get(ctx context.Context, topic string) ([]domain.Subscriber, bool, error)
	Set(ctx context.Context, topic string, subscribers []domain.Subscriber) error
}

type MemoryCacheOptions struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

type memoryEntry struct {
	subscribers []domain.Subscriber
	expiresAt   time.Time
}

// MemoryCache is the process-local Cache.
type MemoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryCache(opts MemoryCacheOptions) *MemoryCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]memoryEntry{},
	}
}

func (c *MemoryCache) Get(_ context.Context, topic string) ([]domain.Subscriber, bool, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[topic]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !now.Before(entry.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[topic]; still && !now.Before(current.expiresAt) {
			delete(c.entries, topic)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return cloneSubscribers(entry.subscribers), true, nil
}

func (c *MemoryCache) Set(_ context.Context, topic string, subscribers []domain.Subscriber) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[topic] = memoryEntry{
		subscribers: cloneSubscribers(subscribers),
		expiresAt:   now.Add(c.ttl),
	}
	c.cleanup(now)
	return nil
}

// Len reports the number of entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		return
	}
	for topic, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, topic)
		}
	}
	for topic := range c.entries {
		if len(c.entries) <= c.maxEntries {
			break
		}
		delete(c.entries, topic)
	}
}

const redisCacheKeyPrefix = "webhooks::resolution::v1"

// RedisCacheKey returns the key holding a topic's subscriber set.
func RedisCacheKey(topic string) string {
	return redisCacheKeyPrefix + "::" + url.PathEscape(topic)
}

// RedisCache shares resolutions between processes. Entries expire through the
// Redis TTL; nothing invalidates them early.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, topic string) ([]domain.Subscriber, bool, error) {
	data, err := c.client.Get(ctx, RedisCacheKey(topic)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading resolution cache: %w", err)
	}

	var subscribers []domain.Subscriber
	if err := json.Unmarshal(data, &subscribers); err != nil {
		return nil, false, fmt.Errorf("decoding resolution cache entry: %w", err)
	}
	return subscribers, true, nil
}

func (c *RedisCache) Set(ctx context.Context, topic string, subscribers []domain.Subscriber) error {
	if subscribers == nil {
		subscribers = []domain.Subscriber{}
	}
	data, err := json.Marshal(subscribers)
	if err != nil {
		return fmt.Errorf("encoding resolution cache entry: %w", err)
	}
	if err := c.client.Set(ctx, RedisCacheKey(topic), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing resolution cache: %w", err)
	}
	return nil
}

func cloneSubscribers(in []domain.Subscriber) []domain.Subscriber {
	out := make([]domain.Subscriber, len(in))
	for i, sub := range in {
		out[i] = sub.Clone()
	}
	return out
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
