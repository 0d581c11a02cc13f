package experiment

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/cache"
)

// ResultsCache keeps the latest results per experiment in memory.
// Entries carry their GeneratedAt, so callers can judge freshness.
type ResultsCache struct {
	lru *cache.LRUCache[uuid.UUID, *Results]
}

// NewResultsCache creates a cache for up to capacity experiments.
// A zero ttl keeps entries until they are evicted or replaced.
func NewResultsCache(capacity int, ttl time.Duration) *ResultsCache {
	return &ResultsCache{lru: cache.NewLRUCache[uuid.UUID, *Results](capacity, cache.WithTTL(ttl))}
}

// Get returns a copy of the cached results.
func (c *ResultsCache) Get(experimentID uuid.UUID) (*Results, bool) {
	r, ok := c.lru.Get(experimentID)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Put stores a copy of r unless a newer result is already cached.
func (c *ResultsCache) Put(r *Results) {
	if cur, ok := c.lru.Get(r.ExperimentID); ok && cur.GeneratedAt.After(r.GeneratedAt) {
		return
	}
	c.lru.Put(r.ExperimentID, r.Clone())
}

// Invalidate drops the cached results of an experiment.
func (c *ResultsCache) Invalidate(experimentID uuid.UUID) {
	c.lru.Remove(experimentID)
}
