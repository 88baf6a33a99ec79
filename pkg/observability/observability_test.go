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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/cache"
	"github.com/kadirpekel/aegis/pkg/ratelimit"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	runtime := false
	m, err := NewMetrics(MetricsConfig{RuntimeMetrics: &runtime})
	require.NoError(t, err)
	require.NotNil(t, m)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	m.RecordRateLimitDenied(ctx, "ip:1.2.3.4")
	m.RecordRetry(ctx, "op", 1)
	m.RecordRetryExhausted(ctx, "op")
	m.RecordBreakerTransition(ctx, "b", "closed", "open")
	m.RecordGuardCall(ctx, "g", GuardOutcomeSuccess, time.Millisecond)
	assert.NoError(t, m.RegisterCache("c", nil))
	assert.NoError(t, m.Shutdown(ctx))
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewMetrics_Disabled(t *testing.T) {
	enabled := false
	m, err := NewMetrics(MetricsConfig{Enabled: &enabled})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMetrics_CountersExported(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRateLimitDenied(ctx, "key:abcd1234")
	m.RecordRetry(ctx, "upstream", 1)
	m.RecordRetryExhausted(ctx, "upstream")
	m.RecordBreakerTransition(ctx, "upstream", "closed", "open")
	m.RecordGuardCall(ctx, "complete", GuardOutcomeCacheHit, 2*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "aegis_ratelimit_denied")
	assert.Contains(t, body, `client_kind="key"`)
	assert.NotContains(t, body, "abcd1234")
	assert.Contains(t, body, "aegis_retry_attempts")
	assert.Contains(t, body, "aegis_retry_exhausted")
	assert.Contains(t, body, "aegis_breaker_transitions")
	assert.Contains(t, body, `to="open"`)
	assert.Contains(t, body, "aegis_guard_calls")
	assert.Contains(t, body, `outcome="cache_hit"`)
}

func TestMetrics_ObservedComponents(t *testing.T) {
	m := newTestMetrics(t)

	c, err := cache.New[string](8, time.Minute)
	require.NoError(t, err)
	c.Set("a", "1")
	c.Get("a")
	c.Get("missing")
	require.NoError(t, m.RegisterCache("responses", c))

	l, err := ratelimit.New(10, time.Minute)
	require.NoError(t, err)
	l.Allow("ip:10.0.0.1")
	require.NoError(t, m.RegisterLimiter("http", l))

	b, err := breaker.New(breaker.Settings{Name: "upstream", FailureThreshold: 1})
	require.NoError(t, err)
	b.RecordFailure()
	require.NoError(t, m.RegisterBreaker(b))

	body := scrape(t, m)
	assert.Contains(t, body, "aegis_cache_entries")
	assert.Contains(t, body, "aegis_cache_hits")
	assert.Contains(t, body, "aegis_cache_misses")
	assert.Contains(t, body, `cache="responses"`)
	assert.Contains(t, body, "aegis_ratelimit_active_clients")
	assert.Contains(t, body, "aegis_breaker_state")
	assert.Contains(t, body, `breaker="upstream"`)
}

func TestHTTPMiddleware_RecordsRoutePattern(t *testing.T) {
	m := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(m))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, "aegis_http_requests")
	assert.Contains(t, body, `route="/items/{id}"`)
	assert.Contains(t, body, `status="418"`)
	assert.NotContains(t, body, "/items/42")
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusOK, w.statusCode)
	assert.Equal(t, 5, w.bytesWritten)

	w.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusOK, w.statusCode, "status is fixed once written")
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, DefaultSamplingRate, cfg.Tracing.SamplingRate)
	assert.True(t, cfg.Tracing.IsInsecure())
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	require.NoError(t, cfg.Validate())

	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"
	assert.Error(t, cfg.Validate())

	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 2
	assert.Error(t, cfg.Validate())

	cfg.Tracing.SamplingRate = 1
	cfg.Metrics.Endpoint = "metrics"
	assert.Error(t, cfg.Validate())
}

func TestTracer_DisabledIsNil(t *testing.T) {
	tr, err := NewTracer(context.Background(), &TracingConfig{})
	require.NoError(t, err)
	assert.Nil(t, tr)

	_, span := tr.Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracer_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracer(context.Background(), &TracingConfig{
		Enabled:  true,
		Exporter: "stdout",
	}, WithStdoutWriter(&buf))
	require.NoError(t, err)
	require.NotNil(t, tr)

	_, span := tr.Start(context.Background(), SpanGuardDo)
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), SpanGuardDo)
}

func TestManager_Lifecycle(t *testing.T) {
	runtime := false
	m := NewManager(Config{Metrics: MetricsConfig{RuntimeMetrics: &runtime}})
	require.NoError(t, m.Initialize(context.Background()))

	assert.Nil(t, m.Tracer())
	assert.NotNil(t, m.Metrics())
	assert.NoError(t, m.Shutdown(context.Background()))
}
