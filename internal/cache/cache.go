// Package cache implements the multi-tier TTL cache shared by concurrent
// scans: full scan results, per-TI-source verdicts, and DNS lookups. Values
// are derived data, so writes are idempotent and last-writer-wins is
// acceptable. Shards keep a miss on one key from blocking other keys.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount trades lock contention against memory; a small power of two is
// plenty since entries are tiny.
const shardCount = 32

// Clock abstracts time for deterministic expiry tests.
type Clock func() time.Time

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Cache is a sharded TTL map safe for concurrent readers and writers.
type Cache[V any] struct {
	shards [shardCount]*shard[V]
	clock  Clock
}

// New creates a Cache using the provided clock; nil selects time.Now.
func New[V any](clock Clock) *Cache[V] {
	if clock == nil {
		clock = time.Now
	}
	c := &Cache[V]{clock: clock}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}

	return c
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value for key when present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || c.clock().After(e.expiresAt) {
		var zero V

		return zero, false
	}

	return e.value, true
}

// Set stores value under key for the given TTL. Non-positive TTLs store nothing.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, expiresAt: c.clock().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Sweep drops expired entries. Callers run it periodically; correctness does
// not depend on it since Get checks expiry.
func (c *Cache[V]) Sweep() {
	now := c.clock()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// URLKey returns the stable content hash of a canonical URL used as the cache
// key for full results and DNS lookups.
func URLKey(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))

	return hex.EncodeToString(sum[:])
}

// SourceKey returns the cache key for one TI source's verdict on a URL.
func SourceKey(urlKey, source string) string {
	return urlKey + ":" + source
}
