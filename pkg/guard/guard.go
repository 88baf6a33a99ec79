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

// Package guard composes the cache, retry engine and circuit breaker around a
// downstream call.
//
// A guarded call first consults the cache. On a miss it runs the operation
// through the retryer, optionally protected by a breaker, and stores a
// successful result. Either component may be nil.
//
// Two compositions are supported:
//
//   - BreakerOutside: the breaker wraps the whole retry loop, so one logical
//     request is one breaker sample.
//   - BreakerInside: every attempt consults the breaker, so a breaker that
//     opens mid-loop stops the remaining attempts. Build the retryer with a
//     classifier that rejects breaker.ErrOpen to fail fast in that case.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/cache"
	"github.com/kadirpekel/aegis/pkg/observability"
	"github.com/kadirpekel/aegis/pkg/retry"
)

// Order selects how the breaker and the retryer are nested.
type Order int

const (
	BreakerOutside Order = iota
	BreakerInside
)

func (o Order) String() string {
	switch o {
	case BreakerOutside:
		return "breaker_outside"
	case BreakerInside:
		return "breaker_inside"
	default:
		return "unknown"
	}
}

// ParseOrder converts a configuration string to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "breaker_outside", "outside":
		return BreakerOutside, nil
	case "breaker_inside", "inside":
		return BreakerInside, nil
	default:
		return BreakerOutside, fmt.Errorf("unknown guard order %q (valid: breaker_outside, breaker_inside)", s)
	}
}

// Settings configures a Guard.
type Settings[V any] struct {
	Name    string
	Cache   *cache.Cache[V]
	Retryer *retry.Retryer
	Breaker *breaker.Breaker
	Order   Order

	// Metrics records one sample per Do call. Nil disables recording.
	Metrics *observability.Metrics
}

// Guard runs downstream calls behind a cache, a retryer and a breaker.
type Guard[V any] struct {
	name    string
	cache   *cache.Cache[V]
	retryer *retry.Retryer
	breaker *breaker.Breaker
	order   Order
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// New returns a Guard. Nil components are skipped.
func New[V any](s Settings[V]) *Guard[V] {
	if s.Name == "" {
		s.Name = "guard"
	}
	return &Guard[V]{
		name:    s.Name,
		cache:   s.Cache,
		retryer: s.Retryer,
		breaker: s.Breaker,
		order:   s.Order,
		metrics: s.Metrics,
		tracer:  observability.GetTracer("aegis.guard"),
	}
}

// Do returns the cached value for key or runs fn under the configured
// policies. An empty key bypasses the cache. Errors from fn reach the caller
// unchanged; a rejected call returns a *breaker.OpenError.
func (g *Guard[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	start := time.Now()

	ctx, span := g.tracer.Start(ctx, observability.SpanGuardDo,
		trace.WithAttributes(
			attribute.String(observability.AttrGuardName, g.name),
			attribute.String(observability.AttrGuardOrder, g.order.String()),
		),
	)
	defer span.End()

	if g.cache != nil && key != "" {
		if v, ok := g.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool(observability.AttrCacheHit, true))
			span.SetStatus(codes.Ok, "cache hit")
			g.metrics.RecordGuardCall(ctx, g.name, observability.GuardOutcomeCacheHit, time.Since(start))
			return v, nil
		}
		span.SetAttributes(attribute.Bool(observability.AttrCacheHit, false))
	}

	v, err := g.compose(fn)(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		outcome := observability.GuardOutcomeError
		if breaker.IsOpen(err) {
			outcome = observability.GuardOutcomeRejected
		}
		g.metrics.RecordGuardCall(ctx, g.name, outcome, time.Since(start))

		var zero V
		return zero, err
	}

	if g.cache != nil && key != "" {
		g.cache.Set(key, v)
	}

	span.SetStatus(codes.Ok, "success")
	g.metrics.RecordGuardCall(ctx, g.name, observability.GuardOutcomeSuccess, time.Since(start))
	return v, nil
}

// Wrap binds Do to a fixed key function.
func (g *Guard[V]) Wrap(keyFn func() string, fn func(ctx context.Context) (V, error)) func(ctx context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		return g.Do(ctx, keyFn(), fn)
	}
}

func (g *Guard[V]) compose(fn func(ctx context.Context) (V, error)) func(ctx context.Context) (V, error) {
	withRetry := func(inner func(ctx context.Context) (V, error)) func(ctx context.Context) (V, error) {
		if g.retryer == nil {
			return inner
		}
		return retry.Wrap(g.retryer, inner)
	}
	withBreaker := func(inner func(ctx context.Context) (V, error)) func(ctx context.Context) (V, error) {
		if g.breaker == nil {
			return inner
		}
		return func(ctx context.Context) (V, error) {
			return breaker.Execute(ctx, g.breaker, inner)
		}
	}

	if g.order == BreakerInside {
		return withRetry(withBreaker(fn))
	}
	return withBreaker(withRetry(fn))
}

// Invalidate drops a cached result.
func (g *Guard[V]) Invalidate(key string) bool {
	if g.cache == nil {
		return false
	}
	return g.cache.Delete(key)
}

// Key derives a cache key from parts by hashing them with SHA-256. Parts are
// length-prefixed so ("ab", "c") and ("a", "bc") differ.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsRejected reports whether err came from an open breaker.
func IsRejected(err error) bool {
	return errors.Is(err, breaker.ErrOpen)
}
