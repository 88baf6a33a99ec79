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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name as produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", text)
	}
	return nil
}

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Settings configures a Breaker. Zero FailureThreshold and RecoveryTimeout
// take the package defaults.
type Settings struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// IsFailure selects the errors that count against the breaker. Errors
	// it rejects are returned to the caller without being recorded. Nil
	// counts every error.
	IsFailure func(err error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the time source. Intended for tests.
	Now func() time.Time
}

// Breaker is a closed/open/half-open circuit breaker. All state is guarded by
// one mutex; concurrent probes in HalfOpen are allowed.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
	now              func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
}

// New validates s and returns a closed breaker.
func New(s Settings) (*Breaker, error) {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.RecoveryTimeout == 0 {
		s.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if s.FailureThreshold < 1 {
		return nil, fmt.Errorf("failure threshold must be at least 1, got %d", s.FailureThreshold)
	}
	if s.RecoveryTimeout < 0 {
		return nil, fmt.Errorf("recovery timeout must be positive, got %s", s.RecoveryTimeout)
	}
	if s.Name == "" {
		s.Name = "default"
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	return &Breaker{
		name:             s.Name,
		failureThreshold: s.FailureThreshold,
		recoveryTimeout:  s.RecoveryTimeout,
		isFailure:        s.IsFailure,
		onStateChange:    s.OnStateChange,
		now:              s.Now,
		state:            StateClosed,
	}, nil
}

type transition struct {
	from, to State
}

// setState must be called with mu held. It returns the transition to report,
// if any.
func (b *Breaker) setState(to State) *transition {
	if b.state == to {
		return nil
	}
	t := &transition{from: b.state, to: to}
	b.state = to
	return t
}

func (b *Breaker) notify(t *transition) {
	if t == nil || b.onStateChange == nil {
		return
	}
	b.onStateChange(b.name, t.from, t.to)
}

// CanExecute reports whether a call may proceed. An open breaker whose
// recovery timeout has elapsed moves to HalfOpen as a side effect.
func (b *Breaker) CanExecute() bool {
	ok, _ := b.admit()
	return ok
}

// admit is CanExecute that also returns the remaining open time on denial.
func (b *Breaker) admit() (bool, time.Duration) {
	b.mu.Lock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		b.mu.Unlock()
		return true, 0
	}

	if b.lastFailure.IsZero() {
		b.mu.Unlock()
		return true, 0
	}

	elapsed := b.now().Sub(b.lastFailure)
	if elapsed <= b.recoveryTimeout {
		b.mu.Unlock()
		return false, b.recoveryTimeout - elapsed
	}

	t := b.setState(StateHalfOpen)
	b.mu.Unlock()

	slog.Info("Circuit breaker half-open", "breaker", b.name, "elapsed", elapsed)
	b.notify(t)
	return true, 0
}

// RecordSuccess closes a half-open breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var t *transition
	switch b.state {
	case StateHalfOpen:
		t = b.setState(StateClosed)
		b.failureCount = 0
	case StateClosed:
		b.failureCount = 0
	}
	b.mu.Unlock()

	if t != nil {
		slog.Info("Circuit breaker closed", "breaker", b.name)
		b.notify(t)
	}
}

// RecordFailure counts a failure. A half-open breaker reopens immediately; a
// closed one opens once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failureCount++
	b.lastFailure = b.now()
	count := b.failureCount

	var (
		t        *transition
		reopened bool
	)
	switch {
	case b.state == StateHalfOpen:
		t = b.setState(StateOpen)
		reopened = true
	case count >= b.failureThreshold:
		t = b.setState(StateOpen)
	}
	b.mu.Unlock()

	if t == nil {
		return
	}
	if reopened {
		slog.Warn("Circuit breaker re-opened after failed probe", "breaker", b.name)
	} else {
		slog.Error("Circuit breaker opened", "breaker", b.name, "failures", count)
	}
	b.notify(t)
}

// Reset closes the breaker and forgets all failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	t := b.setState(StateClosed)
	b.failureCount = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()

	slog.Info("Circuit breaker reset", "breaker", b.name)
	b.notify(t)
}

// Call runs fn if the breaker admits it and records the outcome. A rejected
// call returns an *OpenError without running fn. Errors from fn are returned
// unchanged.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if ok, wait := b.admit(); !ok {
		return &OpenError{Name: b.name, RetryAfter: wait}
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case b.isFailure == nil || b.isFailure(err):
		b.RecordFailure()
	}
	return err
}

// Execute is Call for operations that produce a result.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Call(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// State returns the current state without evaluating the recovery timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// Stats is a snapshot of breaker state.
type Stats struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	LastFailure      *time.Time    `json:"last_failure,omitempty"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.failureThreshold,
		RecoveryTimeout:  b.recoveryTimeout,
	}
	if !b.lastFailure.IsZero() {
		last := b.lastFailure
		s.LastFailure = &last
	}
	return s
}
