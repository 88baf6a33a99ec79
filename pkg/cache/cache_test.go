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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, capacity int, clock *fakeClock, opts ...Option) *Cache[string] {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	c, err := New[string](capacity, time.Minute, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New[string](0, time.Minute)
	assert.Error(t, err)

	_, err = New[string](10, 0)
	assert.Error(t, err)
}

func TestCache_SetThenGet(t *testing.T) {
	c := newTestCache(t, 10, newFakeClock())

	c.Set("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.SetWithTTL("short", "v", 5*time.Second)
	c.Set("long", "v")

	clock.Advance(5 * time.Second)
	_, ok := c.Get("short")
	assert.True(t, ok, "entry is still valid exactly at its expiry instant")

	clock.Advance(time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size(), "expired entry should be removed on read")

	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestCache_NonPositiveTTLUsesDefault(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.SetWithTTL("k", "v", 0)
	clock.Advance(30 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, 3, newFakeClock())

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	c.Set("d", "4")

	assert.Equal(t, 3, c.Size())
	assert.False(t, c.Contains("a"), "oldest key should be evicted")
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_GetProtectsFromEviction(t *testing.T) {
	c := newTestCache(t, 3, newFakeClock())

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", "4")

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"), "b is now the least recently used key")
}

func TestCache_ContainsDoesNotPromote(t *testing.T) {
	c := newTestCache(t, 2, newFakeClock())

	c.Set("a", "1")
	c.Set("b", "2")
	assert.True(t, c.Contains("a"))

	c.Set("c", "3")
	assert.False(t, c.Contains("a"))

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestCache_OverwriteKeepsSizeAndAccessCount(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 2, clock)

	c.Set("a", "1")
	c.Set("b", "2")
	_, _ = c.Get("a")
	_, _ = c.Get("a")

	clock.Advance(50 * time.Second)
	c.Set("a", "updated")

	assert.Equal(t, 2, c.Size())
	assert.Zero(t, c.Stats().Evictions)

	c.mu.Lock()
	entry, ok := c.lru.Peek("a")
	c.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "updated", entry.Value)
	assert.Equal(t, int64(2), entry.AccessCount)
	assert.Equal(t, clock.Now(), entry.CreatedAt)
	assert.Equal(t, clock.Now().Add(time.Minute), entry.Expiry)

	// Overwrite refreshed the TTL and promoted "a", so "b" goes first.
	clock.Advance(30 * time.Second)
	c.Set("c", "3")
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
}

func TestCache_ExpiredEntriesCountTowardCapacity(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 2, clock)

	c.SetWithTTL("stale", "1", time.Second)
	c.Set("fresh", "2")
	clock.Advance(2 * time.Second)

	assert.Equal(t, 2, c.Size())
	stats := c.Stats()
	assert.Equal(t, 1, stats.ExpiredEntries)
	assert.Equal(t, 1, stats.ActiveEntries)

	c.Set("new", "3")
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Size())
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := newTestCache(t, 10, newFakeClock())

	c.Set("a", "1")
	c.Set("b", "2")

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	_, _ = c.Get("b")
	c.Clear()

	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.Zero(t, c.Size())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits, "clear must not reset counters")
	assert.Equal(t, int64(1), stats.Misses)

	c.ResetStats()
	stats = c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Evictions)
}

func TestCache_CleanupExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.SetWithTTL("a", "1", time.Second)
	c.SetWithTTL("b", "2", time.Second)
	c.Set("c", "3")
	clock.Advance(2 * time.Second)

	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 1, c.Size())
	assert.Zero(t, c.CleanupExpired())
}

func TestCache_HitRate(t *testing.T) {
	c := newTestCache(t, 10, newFakeClock())
	assert.Zero(t, c.Stats().HitRate)

	c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("nope")

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.75, stats.HitRate)
}

func TestCache_DisabledSetIsNoop(t *testing.T) {
	flag := &atomic.Bool{}
	c := newTestCache(t, 10, newFakeClock(), WithEnabledFlag(flag))

	for i := 0; i < 3; i++ {
		c.Set("k", "v")
		_, ok := c.Get("k")
		assert.False(t, ok)
	}
	assert.False(t, c.Stats().Enabled)

	flag.Store(true)
	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.True(t, ok)

	c.SetEnabled(false)
	assert.False(t, flag.Load(), "shared flag should follow SetEnabled")
	assert.True(t, c.Delete("k"), "delete works while disabled")
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, err := New[int](64, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (g*500+i)%200)
				c.Set(key, i)
				c.Get(key)
				if i%50 == 0 {
					c.CleanupExpired()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 64)
}
