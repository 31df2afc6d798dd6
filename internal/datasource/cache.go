package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/finance"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/metrics"
)

// DefaultCacheTTL bounds how long fetched statements are reused.
const DefaultCacheTTL = 40 * time.Minute

// Cache stores fetched company data by ticker.
type Cache interface {
	Get(ctx context.Context, ticker string) (*finance.CompanyData, bool, error)
	Set(ctx context.Context, ticker string, data *finance.CompanyData, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Cached decorates a provider with a read-through cache. Cache faults are
// logged and bypassed; they never fail a fetch.
type Cached struct {
	next  Provider
	cache Cache
	ttl   time.Duration
}

func NewCached(next Provider, cache Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Fetch(ctx context.Context, id Identity) (*finance.CompanyData, error) {
	key := strings.ToUpper(id.Ticker)
	data, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		slog.Warn("cache get failed", "ticker", key, "error", err)
		metrics.CacheLookups.WithLabelValues("error").Inc()
	case ok:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	data, err = c.next.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		slog.Warn("cache set failed", "ticker", key, "error", err)
	}
	return data, nil
}

// RedisCache keeps company data in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{client: client, prefix: "company:"}, nil
}

func (r *RedisCache) Get(ctx context.Context, ticker string) (*finance.CompanyData, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+ticker).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var data finance.CompanyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("decode cached company: %w", err)
	}
	return &data, true, nil
}

func (r *RedisCache) Set(ctx context.Context, ticker string, data *finance.CompanyData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode company: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+ticker, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisCache) Close() error { return r.client.Close() }

// MemoryCache is the in-process fallback when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data    *finance.CompanyData
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, ticker string) (*finance.CompanyData, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ticker]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expires) {
		delete(m.entries, ticker)
		return nil, false, nil
	}
	return e.data.Clone(), true, nil
}

func (m *MemoryCache) Set(_ context.Context, ticker string, data *finance.CompanyData, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[ticker] = memoryEntry{data: data.Clone(), expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Ping(context.Context) error { return nil }
