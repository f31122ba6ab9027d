package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache stores serialized completion responses.
type Cache interface {
	// Get returns the cached value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisClient is the subset of go-redis client methods used by RedisCache.
// Keeping it as an interface enables mocking in tests.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores responses in Redis under a key prefix.
type RedisCache struct {
	client RedisClient
	prefix string
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(client RedisClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", addr, err)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// CachingProvider serves repeated identical requests from a cache. Concurrent
// identical requests share one upstream call.
type CachingProvider struct {
	next   Provider
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachingProvider wraps next with cache. A zero ttl never expires entries.
func NewCachingProvider(next Provider, cache Cache, ttl time.Duration, logger *slog.Logger) *CachingProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingProvider{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (p *CachingProvider) Name() string { return p.next.Name() }

// Complete returns a cached response when one exists. Cache failures are
// logged and fall through to the wrapped provider. Responses rejected by
// req.Accept are returned but never stored, and a rejected cache entry is
// refetched.
func (p *CachingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	key, err := CacheKey(p.next.Name(), req)
	if err != nil {
		return nil, err
	}

	if data, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("LLM cache read failed", "stage", req.Stage, "error", err)
	} else if ok {
		var resp CompletionResponse
		if err := json.Unmarshal(data, &resp); err == nil && accepts(req, &resp) {
			resp.Cached = true
			return &resp, nil
		}
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		resp, err := p.next.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if !accepts(req, resp) {
			p.logger.Debug("LLM response not cached", "stage", req.Stage)
			return resp, nil
		}
		data, err := json.Marshal(resp)
		if err == nil {
			if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
				p.logger.Warn("LLM cache write failed", "stage", req.Stage, "error", err)
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := *v.(*CompletionResponse)
	return &resp, nil
}

func accepts(req CompletionRequest, resp *CompletionResponse) bool {
	return req.Accept == nil || req.Accept(resp) == nil
}

// CacheKey returns the SHA-256 of the provider name and request.
func CacheKey(provider string, req CompletionRequest) (string, error) {
	data, err := json.Marshal(struct {
		Provider string            `json:"provider"`
		Request  CompletionRequest `json:"request"`
	}{provider, req})
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
