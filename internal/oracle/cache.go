package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrade-sim/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QuoteCache stores recent quotes so sessions holding the same token share
// one upstream lookup.
type QuoteCache interface {
	Get(ctx context.Context, key string) (Quote, bool, error)
	Set(ctx context.Context, key string, q Quote, ttl time.Duration) error
}

type cachedQuote struct {
	quote     Quote
	expiresAt time.Time
}

// MemoryCache is a process-local QuoteCache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]cachedQuote
	now   func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]cachedQuote),
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Quote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return Quote{}, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return Quote{}, false, nil
	}
	return item.quote, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, q Quote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cachedQuote{quote: q, expiresAt: c.now().Add(ttl)}
	return nil
}

// quoteKeyPrefix namespaces quote keys in a shared Redis.
// Format: autotrade:quote:{tokenAddress}
const quoteKeyPrefix = "autotrade:quote:"

// RedisCache is a QuoteCache shared between processes through Redis.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies connectivity.
// Callers fall back to a MemoryCache when this returns an error.
func NewRedisCache(cfg config.Redis, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.Address, err)
	}

	logger.Info("Redis quote cache connected", zap.String("address", cfg.Address))
	return &RedisCache{client: client, logger: logger.Named("quote-cache")}, nil
}

func quoteKey(key string) string {
	return quoteKeyPrefix + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (Quote, bool, error) {
	data, err := c.client.Get(ctx, quoteKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return Quote{}, false, fmt.Errorf("decode cached quote %s: %w", key, err)
	}
	return q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, q Quote, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote %s: %w", key, err)
	}
	if err := c.client.Set(ctx, quoteKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
