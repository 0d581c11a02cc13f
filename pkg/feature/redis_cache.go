package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares decisions between service instances. Each flag keeps an
// index set of its keys so invalidation does not need to SCAN the keyspace.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithRedisKeyPrefix namespaces the cache keys. Default "experimentkit:flags".
func WithRedisKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithRedisCacheTTL overrides DefaultCacheTTL.
func WithRedisCacheTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.ttl = ttl }
}

func NewRedisCache(client redis.UniversalClient, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: "experimentkit:flags",
		ttl:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) (Decision, bool, error) {
	raw, err := c.client.Get(ctx, c.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("redis cache get: %w", err)
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		// A corrupt entry behaves like a miss and is overwritten on the next Set.
		return Decision{}, false, nil
	}
	return d, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, d Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis cache encode: %w", err)
	}
	flagName, _, _ := strings.Cut(key, keySeparator)
	dataKey := c.dataKey(key)
	indexKey := c.indexKey(flagName)

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, dataKey, raw, c.ttl)
	pipe.SAdd(ctx, indexKey, dataKey)
	pipe.Expire(ctx, indexKey, c.ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateFlag(ctx context.Context, flagName string) error {
	indexKey := c.indexKey(flagName)
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis cache index: %w", err)
	}
	keys = append(keys, indexKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis cache invalidate: %w", err)
	}
	return nil
}

// dataKey keeps the flag name readable and hashes the unbounded user and context part.
func (c *RedisCache) dataKey(key string) string {
	flagName, rest, _ := strings.Cut(key, keySeparator)
	return c.prefix + ":d:" + flagName + ":" + strconv.FormatUint(xxhash.Sum64String(rest), 16)
}

func (c *RedisCache) indexKey(flagName string) string {
	return c.prefix + ":i:" + flagName
}
