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

package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/cache"
	"github.com/kadirpekel/aegis/pkg/retry"
)

var errDown = errors.New("downstream unavailable")

func testRetryer(t *testing.T, maxRetries int, opts ...retry.Option) *retry.Retryer {
	t.Helper()
	r, err := retry.New(retry.Config{
		MaxRetries:      maxRetries,
		InitialDelay:    time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		ExponentialBase: 2,
	}, opts...)
	require.NoError(t, err)
	return r
}

func testBreaker(t *testing.T, threshold int) *breaker.Breaker {
	t.Helper()
	b, err := breaker.New(breaker.Settings{Name: "test", FailureThreshold: threshold, RecoveryTimeout: time.Hour})
	require.NoError(t, err)
	return b
}

func testCache(t *testing.T) *cache.Cache[string] {
	t.Helper()
	c, err := cache.New[string](16, time.Minute)
	require.NoError(t, err)
	return c
}

func TestGuard_CachesSuccess(t *testing.T) {
	c := testCache(t)
	g := New(Settings[string]{Cache: c, Retryer: testRetryer(t, 2)})
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "answer", nil
	}

	v, err := g.Do(ctx, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "answer", v)

	v, err = g.Do(ctx, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "answer", v)
	assert.Equal(t, 1, calls)

	assert.True(t, g.Invalidate("k"))
	_, _ = g.Do(ctx, "k", fn)
	assert.Equal(t, 2, calls)
}

func TestGuard_EmptyKeyBypassesCache(t *testing.T) {
	c := testCache(t)
	g := New(Settings[string]{Cache: c})

	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	}
	_, _ = g.Do(context.Background(), "", fn)
	_, _ = g.Do(context.Background(), "", fn)

	assert.Equal(t, 2, calls)
	assert.Zero(t, c.Size())
}

func TestGuard_FailuresAreNotCached(t *testing.T) {
	c := testCache(t)
	g := New(Settings[string]{Cache: c, Retryer: testRetryer(t, 1)})

	calls := 0
	_, err := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		return "", errDown
	})

	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 2, calls)
	assert.False(t, c.Contains("k"))
}

func TestGuard_RetriesThenSucceeds(t *testing.T) {
	g := New(Settings[string]{Retryer: testRetryer(t, 3), Breaker: testBreaker(t, 5)})

	calls := 0
	v, err := g.Do(context.Background(), "", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errDown
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestGuard_BreakerOutsideCountsOneSamplePerRequest(t *testing.T) {
	b := testBreaker(t, 2)
	g := New(Settings[string]{Retryer: testRetryer(t, 3), Breaker: b, Order: BreakerOutside})
	ctx := context.Background()

	calls := 0
	failing := func(ctx context.Context) (string, error) {
		calls++
		return "", errDown
	}

	_, err := g.Do(ctx, "", failing)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, b.FailureCount())
	assert.Equal(t, breaker.StateClosed, b.State())

	_, _ = g.Do(ctx, "", failing)
	assert.Equal(t, breaker.StateOpen, b.State())

	_, err = g.Do(ctx, "", failing)
	assert.True(t, IsRejected(err))
	assert.Equal(t, 8, calls, "open breaker must not run the operation")
}

func TestGuard_BreakerInsideStopsRetrying(t *testing.T) {
	b := testBreaker(t, 2)
	r := testRetryer(t, 5, retry.WithRetryable(retry.Matching(func(err error) bool {
		return !breaker.IsOpen(err)
	})))
	g := New(Settings[string]{Retryer: r, Breaker: b, Order: BreakerInside})

	calls := 0
	_, err := g.Do(context.Background(), "", func(ctx context.Context) (string, error) {
		calls++
		return "", errDown
	})

	assert.True(t, IsRejected(err))
	assert.Equal(t, 2, calls, "each attempt is a breaker sample")
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestGuard_NoComponents(t *testing.T) {
	g := New(Settings[int]{})

	v, err := g.Do(context.Background(), "ignored", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, g.Invalidate("ignored"))
}

func TestGuard_Wrap(t *testing.T) {
	c := testCache(t)
	g := New(Settings[string]{Cache: c})

	fn := g.Wrap(func() string { return "fixed" }, func(ctx context.Context) (string, error) {
		return "v", nil
	})
	_, err := fn(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Contains("fixed"))
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("breaker_inside")
	require.NoError(t, err)
	assert.Equal(t, BreakerInside, o)

	o, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, BreakerOutside, o)

	_, err = ParseOrder("sideways")
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("gpt", "hello"), Key("gpt", "hello"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Len(t, Key("x"), 64)
}
