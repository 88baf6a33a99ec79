// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Cache is a TTL cache bounded by entry count with LRU eviction.
//
// All methods are safe for concurrent use. A single mutex guards the recency
// list, the entries and the counters; no caller code runs while it is held.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry[V]]

	capacity   int
	defaultTTL time.Duration
	enabled    *atomic.Bool
	now        func() time.Time
	name       string

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache holding at most capacity entries. Entries written with
// Set live for defaultTTL.
func New[V any](capacity int, defaultTTL time.Duration, opts ...Option) (*Cache[V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be at least 1, got %d", capacity)
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("cache default TTL must be positive, got %s", defaultTTL)
	}

	o := options{now: time.Now, name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.enabled == nil {
		o.enabled = &atomic.Bool{}
		o.enabled.Store(true)
	}

	// Eviction is driven explicitly in Set so it can be counted; the LRU
	// itself never overflows.
	lru, err := simplelru.NewLRU[string, *Entry[V]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create recency list: %w", err)
	}

	return &Cache[V]{
		lru:        lru,
		capacity:   capacity,
		defaultTTL: defaultTTL,
		enabled:    o.enabled,
		now:        o.now,
		name:       o.name,
	}, nil
}

// Get returns the value for key if present and unexpired. A hit promotes the
// key to most recently used and bumps its access count. An expired entry is
// removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(key)
	if !ok {
		c.misses++
		return zero, false
	}

	if entry.expired(c.now()) {
		c.lru.Remove(key)
		c.misses++
		return zero, false
	}

	c.lru.Get(key) // promote
	entry.AccessCount++
	c.hits++
	return entry.Value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key for ttl. A non-positive ttl falls back to
// the default TTL. When the cache is disabled the call does nothing.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if !c.enabled.Load() {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if entry, ok := c.lru.Peek(key); ok {
		entry.Value = value
		entry.Expiry = now.Add(ttl)
		entry.CreatedAt = now
		c.lru.Add(key, entry) // promote, size unchanged
		return
	}

	for c.lru.Len() >= c.capacity {
		evictedKey, _, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.evictions++
		slog.Debug("Cache eviction", "cache", c.name, "key", evictedKey)
	}

	c.lru.Add(key, &Entry[V]{
		Value:     value,
		Expiry:    now.Add(ttl),
		CreatedAt: now,
	})
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear drops every entry. Counters are kept; see ResetStats.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	n := c.lru.Len()
	c.lru.Purge()
	c.mu.Unlock()

	slog.Info("Cache cleared", "cache", c.name, "entries", n)
}

// Contains reports whether key is present and unexpired without touching
// recency or counters. An expired entry found here is removed.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	if entry.expired(c.now()) {
		c.lru.Remove(key)
		return false
	}
	return true
}

// CleanupExpired removes all expired entries and returns how many were
// removed. It is O(n) and meant for a background sweep.
func (c *Cache[V]) CleanupExpired() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && entry.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		slog.Debug("Cleaned up expired cache entries", "cache", c.name, "count", removed)
	}
	return removed
}

// Stats returns a snapshot of entry counts and counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for _, entry := range c.lru.Values() {
		if entry.expired(now) {
			expired++
		}
	}

	total := c.lru.Len()
	var hitRate float64
	if lookups := c.hits + c.misses; lookups > 0 {
		hitRate = float64(c.hits) / float64(lookups)
	}

	return Stats{
		TotalEntries:   total,
		ActiveEntries:  total - expired,
		ExpiredEntries: expired,
		Capacity:       c.capacity,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRate:        hitRate,
		Evictions:      c.evictions,
		Enabled:        c.enabled.Load(),
	}
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *Cache[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Size returns the number of stored entries, expired ones included.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured entry bound.
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// SetEnabled flips the enabled switch. When the switch is shared, every cache
// using it is affected.
func (c *Cache[V]) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports the current state of the enabled switch.
func (c *Cache[V]) Enabled() bool {
	return c.enabled.Load()
}
