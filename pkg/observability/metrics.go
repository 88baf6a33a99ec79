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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/cache"
	"github.com/kadirpekel/aegis/pkg/ratelimit"
)

// Metrics records resilience and HTTP metrics. All methods are safe on a nil
// receiver.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	httpRequests       metric.Int64Counter
	httpDuration       metric.Float64Histogram
	rateLimitDenied    metric.Int64Counter
	retryAttempts      metric.Int64Counter
	retryExhausted     metric.Int64Counter
	breakerTransitions metric.Int64Counter
	guardCalls         metric.Int64Counter
	guardDuration      metric.Float64Histogram

	cacheEntries   metric.Int64ObservableGauge
	cacheHits      metric.Int64ObservableCounter
	cacheMisses    metric.Int64ObservableCounter
	cacheEvictions metric.Int64ObservableCounter
	cacheHitRate   metric.Float64ObservableGauge

	limiterActive  metric.Int64ObservableGauge
	limiterTracked metric.Int64ObservableGauge

	breakerState    metric.Int64ObservableGauge
	breakerFailures metric.Int64ObservableGauge

	mu            sync.Mutex
	registrations []metric.Registration
}

// NewMetrics creates the instruments and a Prometheus registry that exposes
// them. It returns nil when metrics are disabled.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	cfg.SetDefaults()
	if !cfg.IsEnabled() {
		return nil, nil
	}

	registry := prometheus.NewRegistry()
	if cfg.RuntimeMetrics != nil && *cfg.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("aegis")

	m := &Metrics{
		registry: registry,
		provider: provider,
		meter:    meter,
	}

	if m.httpRequests, err = meter.Int64Counter("http.requests",
		metric.WithDescription("HTTP requests served")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("http.request.duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.rateLimitDenied, err = meter.Int64Counter("ratelimit.denied",
		metric.WithDescription("Requests denied by the rate limiter")); err != nil {
		return nil, fmt.Errorf("failed to create rate limit denied counter: %w", err)
	}
	if m.retryAttempts, err = meter.Int64Counter("retry.attempts",
		metric.WithDescription("Retries scheduled after a retryable failure")); err != nil {
		return nil, fmt.Errorf("failed to create retry attempts counter: %w", err)
	}
	if m.retryExhausted, err = meter.Int64Counter("retry.exhausted",
		metric.WithDescription("Operations that failed after spending the retry budget")); err != nil {
		return nil, fmt.Errorf("failed to create retry exhausted counter: %w", err)
	}
	if m.breakerTransitions, err = meter.Int64Counter("breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions")); err != nil {
		return nil, fmt.Errorf("failed to create breaker transitions counter: %w", err)
	}
	if m.guardCalls, err = meter.Int64Counter("guard.calls",
		metric.WithDescription("Guarded downstream calls by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create guard calls counter: %w", err)
	}
	if m.guardDuration, err = meter.Float64Histogram("guard.duration",
		metric.WithDescription("Guarded call duration including retries"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create guard duration histogram: %w", err)
	}

	if m.cacheEntries, err = meter.Int64ObservableGauge("cache.entries",
		metric.WithDescription("Entries stored in the cache, expired ones included")); err != nil {
		return nil, fmt.Errorf("failed to create cache entries gauge: %w", err)
	}
	if m.cacheHits, err = meter.Int64ObservableCounter("cache.hits",
		metric.WithDescription("Cache lookups that found a live entry")); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64ObservableCounter("cache.misses",
		metric.WithDescription("Cache lookups that found nothing or an expired entry")); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}
	if m.cacheEvictions, err = meter.Int64ObservableCounter("cache.evictions",
		metric.WithDescription("Entries evicted under capacity pressure")); err != nil {
		return nil, fmt.Errorf("failed to create cache evictions counter: %w", err)
	}
	if m.cacheHitRate, err = meter.Float64ObservableGauge("cache.hit_ratio",
		metric.WithDescription("Hits over lookups since the last stats reset")); err != nil {
		return nil, fmt.Errorf("failed to create cache hit ratio gauge: %w", err)
	}
	if m.limiterActive, err = meter.Int64ObservableGauge("ratelimit.active_clients",
		metric.WithDescription("Clients with requests inside the default window")); err != nil {
		return nil, fmt.Errorf("failed to create active clients gauge: %w", err)
	}
	if m.limiterTracked, err = meter.Int64ObservableGauge("ratelimit.tracked_clients",
		metric.WithDescription("Clients holding a request window")); err != nil {
		return nil, fmt.Errorf("failed to create tracked clients gauge: %w", err)
	}
	if m.breakerState, err = meter.Int64ObservableGauge("breaker.state",
		metric.WithDescription("Circuit breaker state (0 closed, 1 open, 2 half-open)")); err != nil {
		return nil, fmt.Errorf("failed to create breaker state gauge: %w", err)
	}
	if m.breakerFailures, err = meter.Int64ObservableGauge("breaker.failures",
		metric.WithDescription("Consecutive failures counted by the breaker")); err != nil {
		return nil, fmt.Errorf("failed to create breaker failures gauge: %w", err)
	}

	return m, nil
}

// CacheStatser is implemented by cache.Cache for any value type.
type CacheStatser interface {
	Stats() cache.Stats
}

// RegisterCache observes a cache's counters at collection time.
func (m *Metrics) RegisterCache(name string, c CacheStatser) error {
	if m == nil {
		return nil
	}
	attrs := metric.WithAttributes(attribute.String("cache", name))
	return m.register(func(_ context.Context, o metric.Observer) error {
		s := c.Stats()
		o.ObserveInt64(m.cacheEntries, int64(s.TotalEntries), attrs)
		o.ObserveInt64(m.cacheHits, s.Hits, attrs)
		o.ObserveInt64(m.cacheMisses, s.Misses, attrs)
		o.ObserveInt64(m.cacheEvictions, s.Evictions, attrs)
		o.ObserveFloat64(m.cacheHitRate, s.HitRate, attrs)
		return nil
	}, m.cacheEntries, m.cacheHits, m.cacheMisses, m.cacheEvictions, m.cacheHitRate)
}

// RegisterLimiter observes a limiter's client counts at collection time.
func (m *Metrics) RegisterLimiter(name string, l *ratelimit.Limiter) error {
	if m == nil {
		return nil
	}
	attrs := metric.WithAttributes(attribute.String("limiter", name))
	return m.register(func(_ context.Context, o metric.Observer) error {
		s := l.Stats()
		o.ObserveInt64(m.limiterActive, int64(s.ActiveClients), attrs)
		o.ObserveInt64(m.limiterTracked, int64(s.TrackedClients), attrs)
		return nil
	}, m.limiterActive, m.limiterTracked)
}

// RegisterBreaker observes a breaker's state at collection time.
func (m *Metrics) RegisterBreaker(b *breaker.Breaker) error {
	if m == nil {
		return nil
	}
	attrs := metric.WithAttributes(attribute.String("breaker", b.Name()))
	return m.register(func(_ context.Context, o metric.Observer) error {
		s := b.Stats()
		o.ObserveInt64(m.breakerState, int64(s.State), attrs)
		o.ObserveInt64(m.breakerFailures, int64(s.FailureCount), attrs)
		return nil
	}, m.breakerState, m.breakerFailures)
}

func (m *Metrics) register(cb metric.Callback, instruments ...metric.Observable) error {
	reg, err := m.meter.RegisterCallback(cb, instruments...)
	if err != nil {
		return fmt.Errorf("failed to register metrics callback: %w", err)
	}
	m.mu.Lock()
	m.registrations = append(m.registrations, reg)
	m.mu.Unlock()
	return nil
}

// RecordHTTPRequest records one served request. route should be the router
// pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}

// RecordRateLimitDenied counts a denial. Only the identifier kind ("key" or
// "ip") is recorded, never the identifier itself.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	kind, _, found := strings.Cut(clientID, ":")
	if !found {
		kind = "other"
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("client_kind", kind)))
}

// RecordRetry counts a scheduled retry.
func (m *Metrics) RecordRetry(ctx context.Context, operation string, attempt int) {
	if m == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("attempt", attempt),
	))
}

// RecordRetryExhausted counts an operation that failed on its last attempt.
func (m *Metrics) RecordRetryExhausted(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordBreakerTransition counts a breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordGuardCall records the outcome and duration of a guarded call.
func (m *Metrics) RecordGuardCall(ctx context.Context, name, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("guard", name),
		attribute.String("outcome", outcome),
	)
	m.guardCalls.Add(ctx, 1, attrs)
	m.guardDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Shutdown unregisters callbacks and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	regs := m.registrations
	m.registrations = nil
	m.mu.Unlock()

	for _, reg := range regs {
		_ = reg.Unregister()
	}
	return m.provider.Shutdown(ctx)
}
