// Package cache provides the bounded per-run result cache, keyed by the
// canonical hash of the run's parameters.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/horizonlab/prospect/internal/api"
)

// ResultCache is a size-bounded, TTL-expiring cache of completed scenario
// sets. Reads are shared; writes are exclusive per key. Eviction is
// oldest-first once the bound is reached.
type ResultCache struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *entry]
	ttl    time.Duration
	hits   uint64
	misses uint64
}

// RunMeta carries the completion flags of the run that produced a cached
// snapshot. A partial run must replay as partial on a cache hit.
type RunMeta struct {
	DroppedBatches  int
	UniformFallback bool
}

type entry struct {
	results   []api.ScenarioResult
	meta      RunMeta
	expiresAt time.Time
}

// New creates a result cache holding at most size runs. ttl of zero means
// entries never expire.
func New(size int, ttl time.Duration) (*ResultCache, error) {
	if size <= 0 {
		size = 100
	}
	c, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{cache: c, ttl: ttl}, nil
}

// Get returns the cached scenario set and its run metadata for a parameter
// hash. A nil result slice means the key is unknown or expired.
func (c *ResultCache) Get(key string) ([]api.ScenarioResult, RunMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok || (c.ttl > 0 && time.Now().After(e.expiresAt)) {
		c.misses++
		return nil, RunMeta{}
	}
	c.hits++
	return e.results, e.meta
}

// Put stores a completed run's results under its parameter hash, together
// with the run's completion flags. Results are copied so later mutation by
// the caller cannot corrupt the cache.
func (c *ResultCache) Put(key string, results []*api.ScenarioResult, meta RunMeta) {
	snapshot := make([]api.ScenarioResult, len(results))
	for i, r := range results {
		snapshot[i] = *r
	}

	expiresAt := time.Time{}
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, &entry{results: snapshot, meta: meta, expiresAt: expiresAt})
}

// Len returns the number of cached runs.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Len()
}

// Stats reports hit/miss counters for observability.
func (c *ResultCache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
