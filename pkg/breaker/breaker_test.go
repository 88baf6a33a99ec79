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

package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type recordedTransition struct {
	from, to State
}

func newTestBreaker(t *testing.T, threshold int, timeout time.Duration) (*Breaker, *fakeClock, *[]recordedTransition) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []recordedTransition
	b, err := New(Settings{
		Name:             "test",
		FailureThreshold: threshold,
		RecoveryTimeout:  timeout,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to State) {
			assert.Equal(t, "test", name)
			transitions = append(transitions, recordedTransition{from, to})
		},
	})
	require.NoError(t, err)
	return b, clock, &transitions
}

func failing(ctx context.Context) error { return errBoom }

func succeeding(ctx context.Context) error { return nil }

func TestNew_Defaults(t *testing.T) {
	b, err := New(Settings{})
	require.NoError(t, err)

	stats := b.Stats()
	assert.Equal(t, "default", stats.Name)
	assert.Equal(t, DefaultFailureThreshold, stats.FailureThreshold)
	assert.Equal(t, DefaultRecoveryTimeout, stats.RecoveryTimeout)
	assert.Equal(t, StateClosed, stats.State)
	assert.Nil(t, stats.LastFailure)

	_, err = New(Settings{FailureThreshold: -1})
	assert.Error(t, err)
	_, err = New(Settings{RecoveryTimeout: -time.Second})
	assert.Error(t, err)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _, transitions := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Call(ctx, failing), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}

	assert.ErrorIs(t, b.Call(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.FailureCount())
	assert.Equal(t, []recordedTransition{{StateClosed, StateOpen}}, *transitions)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _, _ := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	require.NoError(t, b.Call(ctx, succeeding))
	assert.Zero(t, b.FailureCount())

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	b, clock, _ := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(20 * time.Second)

	called := false
	err := b.Call(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.True(t, IsOpen(err))

	var oe *OpenError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "test", oe.Name)
	assert.Equal(t, 40*time.Second, oe.RetryAfter)
	assert.False(t, b.CanExecute())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, clock, transitions := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	_ = b.Call(ctx, failing)

	// Exactly at the timeout the breaker is still open.
	clock.Advance(time.Minute)
	assert.False(t, b.CanExecute())
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(time.Millisecond)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())

	// Concurrent probes are admitted.
	assert.True(t, b.CanExecute())

	require.NoError(t, b.Call(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.FailureCount())

	assert.Equal(t, []recordedTransition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, *transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock, _ := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failing)
	}
	clock.Advance(2 * time.Minute)
	require.True(t, b.CanExecute())

	assert.ErrorIs(t, b.Call(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// The recovery timer restarts from the failed probe.
	clock.Advance(30 * time.Second)
	assert.False(t, b.CanExecute())
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	notFound := errors.New("not found")
	b, err := New(Settings{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, notFound)
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Call(ctx, func(ctx context.Context) error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.FailureCount())

	_ = b.Call(ctx, failing)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _, transitions := newTestBreaker(t, 1, time.Hour)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.FailureCount())
	assert.Nil(t, b.Stats().LastFailure)
	assert.True(t, b.CanExecute())
	assert.Len(t, *transitions, 2)

	// Resetting a closed breaker reports nothing.
	b.Reset()
	assert.Len(t, *transitions, 2)
}

func TestBreaker_RecordSuccessWhileOpenIsIgnored(t *testing.T) {
	b, _, _ := newTestBreaker(t, 1, time.Hour)

	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 1, b.FailureCount())
}

func TestExecute(t *testing.T) {
	b, _, _ := newTestBreaker(t, 1, time.Hour)
	ctx := context.Background()

	v, err := Execute(ctx, b, func(ctx context.Context) (string, error) {
		return "value", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = Execute(ctx, b, func(ctx context.Context) (string, error) {
		return "ignored", errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, v)

	_, err = Execute(ctx, b, func(ctx context.Context) (string, error) {
		t.Fatal("must not run while open")
		return "", nil
	})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestState_JSON(t *testing.T) {
	b, _, _ := newTestBreaker(t, 1, time.Hour)
	b.RecordFailure()

	data, err := json.Marshal(b.Stats())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"open"`)
	assert.Contains(t, string(data), `"failure_count":1`)
	assert.Equal(t, "half_open", StateHalfOpen.String())

	var decoded Stats
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StateOpen, decoded.State)

	var s State
	assert.Error(t, s.UnmarshalText([]byte("ajar")))
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b, err := New(Settings{FailureThreshold: 1000, RecoveryTimeout: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if (g+i)%2 == 0 {
					_ = b.Call(ctx, failing)
				} else {
					_ = b.Call(ctx, succeeding)
				}
				_ = b.Stats()
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, StateClosed, b.State())
}
