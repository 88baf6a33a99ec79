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

package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

var defaultRand = rand.Float64

// Retryer runs operations under a retry policy. It holds no per-call state
// and is safe for concurrent use.
type Retryer struct {
	cfg       Config
	retryable []Classifier
	onRetry   func(err error, attempt int)
	onExhaust func(err error, attempts int)
	name      string
	rand      func() float64
}

// Option configures a Retryer.
type Option func(*Retryer)

// WithRetryable restricts retries to errors matched by at least one
// classifier. Other errors are returned after the first attempt.
func WithRetryable(classifiers ...Classifier) Option {
	return func(r *Retryer) {
		r.retryable = append(r.retryable, classifiers...)
	}
}

// WithOnRetry replaces the default warning log emitted before each retry.
// attempt is the 1-based number of the retry about to be made.
func WithOnRetry(fn func(err error, attempt int)) Option {
	return func(r *Retryer) {
		r.onRetry = fn
	}
}

// WithOnExhausted registers a callback invoked when the final allowed attempt
// fails with a retryable error.
func WithOnExhausted(fn func(err error, attempts int)) Option {
	return func(r *Retryer) {
		r.onExhaust = fn
	}
}

// WithName labels the retryer in log records.
func WithName(name string) Option {
	return func(r *Retryer) {
		r.name = name
	}
}

// WithRand overrides the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(r *Retryer) {
		r.rand = fn
	}
}

// New validates cfg and returns a Retryer.
func New(cfg Config, opts ...Option) (*Retryer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Retryer{
		cfg:  cfg,
		name: "operation",
		rand: defaultRand,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onRetry == nil {
		r.onRetry = r.logRetry
	}
	return r, nil
}

// Config returns the policy the retryer was built with.
func (r *Retryer) Config() Config {
	return r.cfg
}

// Name returns the retryer's label.
func (r *Retryer) Name() string {
	return r.name
}

func (r *Retryer) logRetry(err error, attempt int) {
	slog.Warn("Retrying operation",
		"operation", r.name,
		"attempt", attempt,
		"max_retries", r.cfg.MaxRetries,
		"error", err)
}

func (r *Retryer) isRetryable(err error) bool {
	if len(r.retryable) == 0 {
		return true
	}
	for _, c := range r.retryable {
		if c(err) {
			return true
		}
	}
	return false
}

// RetryAfterHinter is implemented by errors that carry a server-provided
// minimum wait, such as a Retry-After header.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// delay returns the computed backoff, raised to any hint carried by err and
// capped at MaxDelay.
func (r *Retryer) delay(err error, attempt int) time.Duration {
	d := Delay(r.cfg, attempt, r.rand)

	var h RetryAfterHinter
	if errors.As(err, &h) {
		if hint := h.RetryAfterHint(); hint > d {
			d = min(hint, r.cfg.MaxDelay)
		}
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The error of the last attempt is returned
// unchanged.
//
// ctx is checked before every attempt, the first included: fn is never
// called with a context that is already done, and Do returns ctx.Err()
// instead. Cancelling ctx during a backoff wait aborts the wait the same way.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !r.isRetryable(err) {
			slog.Debug("Non-retryable error",
				"operation", r.name,
				"attempt", attempt+1,
				"error", err)
			return err
		}

		if attempt >= r.cfg.MaxRetries {
			slog.Error("Retries exhausted",
				"operation", r.name,
				"attempts", attempt+1,
				"error", err)
			if r.onExhaust != nil {
				r.onExhaust(err, attempt+1)
			}
			return err
		}

		wait := r.delay(err, attempt)
		r.onRetry(err, attempt+1)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Value is Do for operations that produce a result. On failure the zero
// value is returned.
func Value[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Wrap returns fn with the retry policy applied. The returned function has
// the same signature and failure surface as fn.
func Wrap[T any](r *Retryer, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Value(ctx, r, fn)
	}
}
