package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL constants
const (
	TTLStatus  = 1 * time.Hour    // migration status records
	TTLFlags   = 10 * time.Minute // routing flag set (invalidated on change)
	TTLPosts   = 30 * time.Second // post list responses
	TTLDefault = 5 * time.Minute
)

// Cache key prefixes
const (
	PrefixStatus = "cpt:status:"
	PrefixLease  = "cpt:lease:"
	PrefixPosts  = "cpt:posts:"
	KeyFlags     = "cpt:enabled_types"
)

// ErrMiss is returned by Get-style calls when the key is absent. Callers
// treat a miss as "no record", not a failure.
var ErrMiss = errors.New("cache miss")

// Service is the TTL key/value store shared by the migration engine (status
// records, lease locks), the routing layer (flag cache) and the read path
// (post list cache).
type Service interface {
	// Migration status records: the value is always written whole.
	GetStatus(ctx context.Context, postType string, dest interface{}) error
	SetStatus(ctx context.Context, postType string, record interface{}, ttl time.Duration) error
	DeleteStatus(ctx context.Context, postType string) error

	// Routing flag set cache
	GetEnabledTypes(ctx context.Context) ([]string, error)
	SetEnabledTypes(ctx context.Context, types []string) error
	InvalidateEnabledTypes(ctx context.Context) error

	// Post list cache
	GetPosts(ctx context.Context, postType string, page, limit int) ([]byte, error)
	SetPosts(ctx context.Context, postType string, page, limit int, data interface{}) error
	InvalidatePosts(ctx context.Context, postType string) error

	// Per-post-type migration lease. Acquire returns false when another
	// holder owns the lease.
	AcquireLease(ctx context.Context, postType, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, postType string) error

	// Utilities
	IsAvailable() bool
	Ping(ctx context.Context) error
}

// redisCache is the Redis-backed implementation.
type redisCache struct {
	client *redis.Client
}

// NewService creates a Redis-backed cache service.
func NewService(client *redis.Client) Service {
	return &redisCache{client: client}
}

func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.client.Ping(ctx).Err()
}

func statusKey(postType string) string { return PrefixStatus + postType }
func leaseKey(postType string) string  { return PrefixLease + postType }

func (c *redisCache) GetStatus(ctx context.Context, postType string, dest interface{}) error {
	data, err := c.client.Get(ctx, statusKey(postType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *redisCache) SetStatus(ctx context.Context, postType string, record interface{}, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = TTLStatus
	}
	return c.client.Set(ctx, statusKey(postType), data, ttl).Err()
}

func (c *redisCache) DeleteStatus(ctx context.Context, postType string) error {
	return c.client.Del(ctx, statusKey(postType)).Err()
}

func (c *redisCache) GetEnabledTypes(ctx context.Context) ([]string, error) {
	data, err := c.client.Get(ctx, KeyFlags).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, err
	}
	return types, nil
}

func (c *redisCache) SetEnabledTypes(ctx context.Context, types []string) error {
	data, err := json.Marshal(types)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, KeyFlags, data, TTLFlags).Err()
}

func (c *redisCache) InvalidateEnabledTypes(ctx context.Context) error {
	return c.client.Del(ctx, KeyFlags).Err()
}

func postsKey(postType string, page, limit int) string {
	return fmt.Sprintf("%s%s:%d:%d", PrefixPosts, postType, page, limit)
}

func (c *redisCache) GetPosts(ctx context.Context, postType string, page, limit int) ([]byte, error) {
	data, err := c.client.Get(ctx, postsKey(postType, page, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (c *redisCache) SetPosts(ctx context.Context, postType string, page, limit int, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, postsKey(postType, page, limit), jsonData, TTLPosts).Err()
}

func (c *redisCache) InvalidatePosts(ctx context.Context, postType string) error {
	iter := c.client.Scan(ctx, 0, PrefixPosts+postType+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *redisCache) AcquireLease(ctx context.Context, postType, holder string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, leaseKey(postType), holder, ttl).Result()
}

func (c *redisCache) ReleaseLease(ctx context.Context, postType string) error {
	return c.client.Del(ctx, leaseKey(postType)).Err()
}

// memoryCache is a process-local fallback used when Redis is not configured,
// and by tests. Lease semantics only protect against overlapping runs inside
// one process, which matches the single-instance deployments that run
// without Redis.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryService creates an in-process cache service.
func NewMemoryService() Service {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) IsAvailable() bool          { return true }
func (c *memoryCache) Ping(context.Context) error { return nil }

func (c *memoryCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

func (c *memoryCache) set(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.entries[key] = memoryEntry{data: data, expiresAt: exp}
}

func (c *memoryCache) delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

func (c *memoryCache) GetStatus(_ context.Context, postType string, dest interface{}) error {
	data, ok := c.get(statusKey(postType))
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *memoryCache) SetStatus(_ context.Context, postType string, record interface{}, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = TTLStatus
	}
	c.set(statusKey(postType), data, ttl)
	return nil
}

func (c *memoryCache) DeleteStatus(_ context.Context, postType string) error {
	c.delete(statusKey(postType))
	return nil
}

func (c *memoryCache) GetEnabledTypes(context.Context) ([]string, error) {
	data, ok := c.get(KeyFlags)
	if !ok {
		return nil, ErrMiss
	}
	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, err
	}
	return types, nil
}

func (c *memoryCache) SetEnabledTypes(_ context.Context, types []string) error {
	data, err := json.Marshal(types)
	if err != nil {
		return err
	}
	c.set(KeyFlags, data, TTLFlags)
	return nil
}

func (c *memoryCache) InvalidateEnabledTypes(context.Context) error {
	c.delete(KeyFlags)
	return nil
}

func (c *memoryCache) GetPosts(_ context.Context, postType string, page, limit int) ([]byte, error) {
	data, ok := c.get(postsKey(postType, page, limit))
	if !ok {
		return nil, ErrMiss
	}
	return data, nil
}

func (c *memoryCache) SetPosts(_ context.Context, postType string, page, limit int, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.set(postsKey(postType, page, limit), jsonData, TTLPosts)
	return nil
}

func (c *memoryCache) InvalidatePosts(_ context.Context, postType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := PrefixPosts + postType + ":"
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *memoryCache) AcquireLease(_ context.Context, postType, holder string, ttl time.Duration) (bool, error) {
	key := leaseKey(postType)
	// Check and write under one lock; two concurrent acquirers must never
	// both see the lease as free.
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		if e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
			return false, nil
		}
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.entries[key] = memoryEntry{data: []byte(holder), expiresAt: exp}
	return true, nil
}

func (c *memoryCache) ReleaseLease(_ context.Context, postType string) error {
	c.delete(leaseKey(postType))
	return nil
}
