package feature

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dmitrymomot/experimentkit/pkg/cache"
)

// DefaultCacheTTL bounds how long a cached decision may outlive a missed invalidation.
const DefaultCacheTTL = 5 * time.Minute

const keySeparator = "|"

// Cache stores evaluation decisions keyed by CacheKey.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Decision, bool, error)
	Set(ctx context.Context, key string, d Decision) error
	// InvalidateFlag drops every cached decision of the named flag.
	InvalidateFlag(ctx context.Context, flagName string) error
}

// CacheKey builds the cache key for an evaluation. The key covers the flag,
// the user and a digest of the context attributes, so decisions that depend
// on targeting rules are never shared across contexts. Attributes are
// digested in the form conditions compare them, so two values that render
// the same never share a key unless every condition treats them alike. It
// returns false when an attribute is neither a scalar nor a list and the
// decision must not be cached.
func CacheKey(flagName, userID string, attrs map[string]any) (string, bool) {
	digest := "-"
	if len(attrs) > 0 {
		d := xxhash.New()
		for _, k := range slices.Sorted(maps.Keys(attrs)) {
			writeField(d, k)
			if !writeAttr(d, attrs[k]) {
				return "", false
			}
		}
		digest = strconv.FormatUint(d.Sum64(), 16)
	}
	return flagName + keySeparator + userID + keySeparator + digest, true
}

// writeField writes s length-prefixed so adjacent fields cannot run together.
func writeField(d *xxhash.Digest, s string) {
	_, _ = d.WriteString(strconv.Itoa(len(s)))
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(s)
}

func writeAttr(d *xxhash.Digest, v any) bool {
	switch x := v.(type) {
	case nil:
		_, _ = d.WriteString("z")
		return true
	case []string:
		_, _ = d.WriteString("l" + strconv.Itoa(len(x)))
		for _, item := range x {
			_, _ = d.WriteString("s")
			writeField(d, item)
		}
		return true
	case []any:
		_, _ = d.WriteString("l" + strconv.Itoa(len(x)))
		for _, item := range x {
			// Contains skips list items it cannot render.
			s, ok := stringValue(item)
			if !ok {
				_, _ = d.WriteString("-")
				continue
			}
			_, _ = d.WriteString("s")
			writeField(d, s)
		}
		return true
	}

	s, ok := stringValue(v)
	if !ok {
		return false
	}
	if n, ok := numberValue(v); ok {
		_, _ = d.WriteString("n")
		writeField(d, strconv.FormatFloat(n, 'g', -1, 64))
	} else {
		_, _ = d.WriteString("s")
	}
	writeField(d, s)
	return true
}

func flagKeyPrefix(flagName string) string {
	return flagName + keySeparator
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (Decision, bool, error) { return Decision{}, false, nil }
func (NoopCache) Set(context.Context, string, Decision) error         { return nil }
func (NoopCache) InvalidateFlag(context.Context, string) error        { return nil }

// MemoryCache is a bounded in-process decision cache with TTL.
type MemoryCache struct {
	lru *cache.LRUCache[string, Decision]
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*memoryCacheConfig)

type memoryCacheConfig struct {
	ttl time.Duration
	now func() time.Time
}

// WithMemoryCacheTTL overrides DefaultCacheTTL.
func WithMemoryCacheTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *memoryCacheConfig) { c.ttl = ttl }
}

// WithMemoryCacheClock sets the time source, for tests.
func WithMemoryCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *memoryCacheConfig) { c.now = now }
}

// NewMemoryCache creates a cache holding at most capacity decisions.
func NewMemoryCache(capacity int, opts ...MemoryCacheOption) *MemoryCache {
	cfg := memoryCacheConfig{ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	lruOpts := []cache.Option{cache.WithTTL(cfg.ttl)}
	if cfg.now != nil {
		lruOpts = append(lruOpts, cache.WithClock(cfg.now))
	}
	return &MemoryCache{lru: cache.NewLRUCache[string, Decision](capacity, lruOpts...)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Decision, bool, error) {
	d, ok := c.lru.Get(key)
	if !ok {
		return Decision{}, false, nil
	}
	return d.clone(), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, d Decision) error {
	c.lru.Put(key, d.clone())
	return nil
}

func (c *MemoryCache) InvalidateFlag(_ context.Context, flagName string) error {
	prefix := flagKeyPrefix(flagName)
	c.lru.RemoveFunc(func(key string, _ Decision) bool {
		return strings.HasPrefix(key, prefix)
	})
	return nil
}

// Len returns the number of cached decisions, including expired ones not yet dropped.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
