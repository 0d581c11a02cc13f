// Package cache provides a generic, thread-safe LRU cache with optional
// time-based expiry.
//
// The cache evicts the least recently used entry once it reaches capacity and
// treats entries older than the configured TTL as missing. Expired entries are
// removed lazily, on the next Get or when eviction reaches them.
//
// # Usage
//
//	c := cache.NewLRUCache[string, Decision](10_000, cache.WithTTL(5*time.Minute))
//
//	c.Put("checkout_redesign|user-1", d)
//	if d, ok := c.Get("checkout_redesign|user-1"); ok {
//		// fresh value
//	}
//
// Bulk invalidation by predicate is supported with RemoveFunc, which is how
// the feature package drops every cached decision of a flag after a write:
//
//	c.RemoveFunc(func(key string, _ Decision) bool {
//		return strings.HasPrefix(key, "checkout_redesign|")
//	})
//
// # Performance Characteristics
//
//   - Get, Put, Remove: O(1)
//   - RemoveFunc: O(n) under the cache lock
//
// All methods are safe for concurrent use.
package cache
