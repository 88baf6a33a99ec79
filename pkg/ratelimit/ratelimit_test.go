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

package ratelimit

import (
	"errors"
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
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func newTestLimiter(t *testing.T, limit int, window time.Duration, clock *fakeClock) *Limiter {
	t.Helper()
	l, err := New(limit, window, WithClock(clock.Now))
	require.NoError(t, err)
	return l
}

func TestNewRule_Validation(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		window time.Duration
		field  string
	}{
		{"zero limit", 0, time.Second, "limit"},
		{"negative limit", -1, time.Second, "limit"},
		{"zero window", 1, 0, "window"},
		{"negative window", 1, -time.Second, "window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.limit, tt.window)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRule)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	rule, err := NewRule(5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "5 requests per 1m0s", rule.String())
}

func TestLimiter_ThreePerMinute(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 3, 60*time.Second, clock)

	for i := 0; i < 3; i++ {
		d := l.Allow("client")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Zero(t, d.RetryAfter)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Allow("client")
	assert.False(t, d.Allowed)
	assert.Equal(t, 61, d.RetryAfter)
	assert.Equal(t, 0, d.Remaining)

	clock.Advance(10 * time.Second)
	d = l.Allow("client")
	assert.False(t, d.Allowed)
	assert.Equal(t, 51, d.RetryAfter)
}

func TestLimiter_RetryAfterIsAtLeastOne(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 1, time.Second, clock)

	require.True(t, l.Allow("c").Allowed)
	clock.Advance(999 * time.Millisecond)

	d := l.Allow("c")
	require.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfter)
}

func TestLimiter_RecoversAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 2, time.Minute, clock)

	l.Allow("c")
	clock.Advance(30 * time.Second)
	l.Allow("c")
	assert.False(t, l.Allow("c").Allowed)

	// The first request sits exactly on the boundary and no longer counts.
	clock.Advance(30 * time.Second)
	d := l.Allow("c")
	assert.True(t, d.Allowed)
	assert.False(t, l.Allow("c").Allowed)

	clock.Advance(time.Minute)
	assert.Equal(t, 2, l.Remaining("c"))
}

func TestLimiter_DeniedRequestsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 1, time.Minute, clock)

	l.Allow("c")
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		l.Allow("c")
	}

	clock.Advance(35 * time.Second)
	assert.True(t, l.Allow("c").Allowed)
}

func TestLimiter_RemainingIsMonotoneAndNonNegative(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 5, time.Minute, clock)

	assert.Equal(t, 5, l.Remaining("c"))

	prev := l.Remaining("c")
	for i := 0; i < 8; i++ {
		l.Allow("c")
		rem := l.Remaining("c")
		assert.GreaterOrEqual(t, rem, 0)
		assert.LessOrEqual(t, rem, prev)
		prev = rem
	}
	assert.Zero(t, prev)

	// Remaining does not record.
	assert.Zero(t, l.Remaining("c"))
	assert.Zero(t, l.Remaining("c"))
}

func TestLimiter_ClientIsolation(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 2, time.Minute, clock)

	l.Allow("a")
	l.Allow("a")
	assert.False(t, l.Allow("a").Allowed)

	assert.True(t, l.Allow("b").Allowed)
	assert.Equal(t, 1, l.Remaining("b"))
}

func TestLimiter_CustomRules(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 2, time.Minute, clock)

	require.NoError(t, l.SetRule("vip", 5, time.Minute))
	assert.Equal(t, 5, l.Remaining("vip"))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("vip").Allowed)
	}
	assert.False(t, l.Allow("vip").Allowed)

	// Falling back to the default keeps the recorded history.
	l.RemoveRule("vip")
	assert.Equal(t, 0, l.Remaining("vip"))
	assert.Equal(t, 2, l.RuleFor("vip").Limit)

	err := l.SetRule("vip", 0, time.Minute)
	assert.Error(t, err)
	assert.Empty(t, l.Rules())
}

func TestLimiter_SetDefaultRule(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 1, time.Minute, clock)

	l.Allow("c")
	assert.False(t, l.Allow("c").Allowed)

	require.NoError(t, l.SetDefaultRule(3, time.Minute))
	assert.True(t, l.Allow("c").Allowed)
	assert.Equal(t, 1, l.Remaining("c"))

	assert.Error(t, l.SetDefaultRule(3, 0))
	assert.Equal(t, Rule{Limit: 3, Window: time.Minute}, l.DefaultRule())
}

func TestLimiter_ReplaceRules(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute, newFakeClock())

	require.NoError(t, l.SetRule("old", 2, time.Second))
	require.NoError(t, l.ReplaceRules(map[string]Rule{
		"a": {Limit: 10, Window: time.Minute},
	}))

	rules := l.Rules()
	assert.Len(t, rules, 1)
	assert.Equal(t, 10, rules["a"].Limit)

	err := l.ReplaceRules(map[string]Rule{"bad": {Limit: 0, Window: time.Second}})
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Len(t, l.Rules(), 1, "failed replace leaves rules untouched")
}

func TestLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 1, time.Minute, clock)
	require.NoError(t, l.SetRule("a", 1, time.Hour))

	l.Allow("a")
	l.Allow("b")

	l.Reset("a")
	assert.True(t, l.Allow("a").Allowed)
	assert.False(t, l.Allow("b").Allowed)
	assert.Len(t, l.Rules(), 1, "reset keeps rules")

	l.ResetAll()
	assert.True(t, l.Allow("b").Allowed)
	assert.Equal(t, Rule{Limit: 1, Window: time.Hour}, l.RuleFor("a"))
}

func TestLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 10, time.Minute, clock)

	l.Allow("idle")
	clock.Advance(2 * time.Hour)
	l.Allow("busy")

	removed := l.Cleanup(time.Hour)
	assert.Equal(t, 1, removed)

	stats := l.Stats()
	assert.Equal(t, 1, stats.TrackedClients)
	assert.Equal(t, 1, stats.ActiveClients)
}

func TestLimiter_Stats(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 10, time.Minute, clock)
	require.NoError(t, l.SetRule("x", 1, time.Second))

	l.Allow("a")
	l.Allow("a")
	l.Allow("b")
	clock.Advance(2 * time.Minute)
	l.Allow("c")

	stats := l.Stats()
	assert.Equal(t, 3, stats.TrackedClients)
	assert.Equal(t, 1, stats.ActiveClients)
	assert.Equal(t, 1, stats.RequestsInWindow)
	assert.Equal(t, 10, stats.DefaultLimit)
	assert.Equal(t, time.Minute, stats.DefaultWindow)
	assert.Equal(t, 1, stats.CustomRules)
}

func TestLimiter_CheckAndOnDenied(t *testing.T) {
	var denied []string
	l, err := New(1, time.Minute, WithOnDenied(func(id string, d Decision) {
		denied = append(denied, id)
	}))
	require.NoError(t, err)

	require.NoError(t, l.Check("c"))

	err = l.Check("c")
	require.Error(t, err)
	assert.True(t, IsRateLimitError(err))

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "c", rle.ClientID)
	assert.GreaterOrEqual(t, rle.Decision.RetryAfter, 1)
	assert.Equal(t, []string{"c"}, denied)
}

func TestLimiter_ConcurrentAdmission(t *testing.T) {
	l, err := New(50, time.Hour)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed = map[string]int{}
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", g%4)
			for i := 0; i < 40; i++ {
				if l.Allow(id).Allowed {
					mu.Lock()
					allowed[id]++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()

	// Each client receives 160 attempts against a budget of 50.
	for id, n := range allowed {
		assert.Equal(t, 50, n, id)
	}
	assert.Len(t, allowed, 4)
}

// stallingClock reads the fake clock and, when armed, parks the caller until
// released before handing the reading back.
type stallingClock struct {
	fake    *fakeClock
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (c *stallingClock) Now() time.Time {
	now := c.fake.Now()
	if c.armed.CompareAndSwap(true, false) {
		close(c.entered)
		<-c.release
	}
	return now
}

func TestLimiter_SameClientStaysOrdered(t *testing.T) {
	clock := &stallingClock{
		fake:    newFakeClock(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	l, err := New(2, 10*time.Second, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, l.Allow("c").Allowed)
	clock.fake.Advance(100 * time.Second)
	start := clock.fake.Now()

	var wg sync.WaitGroup
	clock.armed.Store(true)
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Allow("c")
	}()
	<-clock.entered

	clock.fake.Advance(2 * time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Allow("c")
	}()
	time.Sleep(20 * time.Millisecond)
	close(clock.release)
	wg.Wait()

	l.mu.RLock()
	w := l.clients["c"]
	l.mu.RUnlock()
	w.mu.Lock()
	recorded := append([]time.Time(nil), w.timestamps...)
	w.mu.Unlock()
	require.Len(t, recorded, 2)
	assert.Equal(t, start, recorded[0])
	assert.Equal(t, start.Add(2*time.Second), recorded[1])

	clock.fake.Advance(8500 * time.Millisecond)
	assert.Equal(t, 1, l.Remaining("c"))
	assert.True(t, l.Allow("c").Allowed)
	assert.False(t, l.Allow("c").Allowed, "only two requests fit in any 10s window")
}

func TestLimiter_ClockStepBackKeepsLogAscending(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, 3, time.Minute, clock)

	require.True(t, l.Allow("c").Allowed)
	first := clock.Now()
	clock.Advance(-5 * time.Second)
	require.True(t, l.Allow("c").Allowed)

	w := l.clients["c"]
	assert.Equal(t, []time.Time{first, first}, w.timestamps)
	assert.Equal(t, 1, l.Remaining("c"))
}
