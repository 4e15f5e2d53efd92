// Package cache holds completed analysis results keyed by input
// fingerprint. Entries expire lazily after the TTL; identical concurrent
// requests share one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"divrecon/internal/logging"
	"divrecon/internal/types"
)

// Fingerprint returns the SHA-256 hex digest of the canonical JSON
// serialization of both input collections. Same inputs, same key, across
// processes and runs.
func Fingerprint(nbim, custody []types.EventRecord) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(nbim)
	_ = enc.Encode(custody)
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	result    *types.AnalysisResult
	createdAt time.Time
}

// Cache is a TTL result cache with per-key computation coalescing.
type Cache struct {
	ttl      time.Duration
	mu       sync.Mutex
	entries  map[string]*entry
	inFlight map[string]*call
}

type call struct {
	done   chan struct{}
	result *types.AnalysisResult
	err    error
}

// New builds a cache. ttl <= 0 disables caching entirely.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:      ttl,
		entries:  map[string]*entry{},
		inFlight: map[string]*call{},
	}
}

// Get returns the cached result for key, or nil when absent or expired.
// Expired entries are evicted on access.
func (c *Cache) Get(key string) *types.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.ttl <= 0 || time.Since(e.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	return e.result
}

// Put stores a result. Last writer wins.
func (c *Cache) Put(key string, result *types.AnalysisResult) {
	if c.ttl <= 0 || result == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = &entry{result: result, createdAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate removes one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = map[string]*entry{}
	c.mu.Unlock()
	logging.Get(logging.CategoryCache).Infow("cache invalidated")
}

// GetOrCompute returns the cached result for key or runs compute to build
// it. Concurrent callers for the same key share a single computation.
// forceRefresh bypasses the cached entry but still joins an in-flight
// computation. Failed computations are never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, forceRefresh bool,
	compute func(context.Context) (*types.AnalysisResult, error)) (*types.AnalysisResult, bool, error) {

	log := logging.Get(logging.CategoryCache)

	c.mu.Lock()
	if !forceRefresh {
		if e, ok := c.entries[key]; ok && c.ttl > 0 && time.Since(e.createdAt) <= c.ttl {
			c.mu.Unlock()
			log.Debugw("cache hit", "key", shortKey(key))
			return e.result, true, nil
		}
	}
	if cl, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.result, true, cl.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inFlight[key] = cl
	c.mu.Unlock()

	result, err := compute(ctx)
	cl.result, cl.err = result, err

	c.mu.Lock()
	delete(c.inFlight, key)
	if err == nil && result != nil && c.ttl > 0 {
		c.entries[key] = &entry{result: result, createdAt: time.Now()}
	}
	c.mu.Unlock()
	close(cl.done)

	if err != nil {
		log.Warnw("computation failed, not cached", "key", shortKey(key), "error", err)
	}
	return result, false, err
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
