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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIdentifierFunc(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:    "api key truncated",
			headers: map[string]string{"X-API-Key": "sk-1234567890abcdef"},
			want:    "key:sk-12345",
		},
		{
			name:    "short api key",
			headers: map[string]string{"X-API-Key": "abc"},
			want:    "key:abc",
		},
		{
			name:    "authorization header",
			headers: map[string]string{"Authorization": "Bearer token-value"},
			want:    "key:Bearer t",
		},
		{
			name:    "api key wins over authorization",
			headers: map[string]string{"X-API-Key": "first-key", "Authorization": "Bearer x"},
			want:    "key:first-ke",
		},
		{
			name:       "forwarded for first hop",
			headers:    map[string]string{"X-Forwarded-For": " 10.0.0.1 , 172.16.0.1"},
			remoteAddr: "192.168.1.1:5555",
			want:       "ip:10.0.0.1",
		},
		{
			name:       "remote host",
			remoteAddr: "192.168.1.1:5555",
			want:       "ip:192.168.1.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.1",
			want:       "ip:192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/complete", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, DefaultIdentifierFunc(req))
		})
	}
}

func newMiddlewareHandler(t *testing.T, limit int) (http.Handler, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l := newTestLimiter(t, limit, time.Minute, clock)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(MiddlewareConfig{Limiter: l})(ok), clock
}

func doRequest(h http.Handler, path, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AllowedHeaders(t *testing.T) {
	h, _ := newMiddlewareHandler(t, 3)

	rec := doRequest(h, "/v1/complete", "client-key")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Window"))
}

func TestMiddleware_Limited(t *testing.T) {
	h, clock := newMiddlewareHandler(t, 1)

	require.Equal(t, http.StatusOK, doRequest(h, "/v1/complete", "client-key").Code)

	clock.Advance(20 * time.Second)
	rec := doRequest(h, "/v1/complete", "client-key")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.Equal(t, "41", rec.Header().Get("Retry-After"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "41", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body LimitedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Too many requests", body.Error)
	assert.Equal(t, "rate_limit_exceeded", body.Code)
	assert.Equal(t, 41, body.RetryAfter)
	assert.Contains(t, body.Message, "41 seconds")

	// A different key has its own budget.
	assert.Equal(t, http.StatusOK, doRequest(h, "/v1/complete", "other-key").Code)
}

func TestMiddleware_ExcludedPaths(t *testing.T) {
	h, _ := newMiddlewareHandler(t, 1)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, "/health", "k").Code)
		assert.Equal(t, http.StatusOK, doRequest(h, "/metrics", "k").Code)
	}
	assert.Equal(t, http.StatusOK, doRequest(h, "/v1/complete", "k").Code)
}

func TestMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	h := Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := doRequest(h, "/", "")
	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestMiddleware_ContextValues(t *testing.T) {
	l, err := New(5, time.Minute)
	require.NoError(t, err)

	var (
		gotID       string
		gotDecision *Decision
	)
	h := Middleware(MiddlewareConfig{
		Limiter:        l,
		IdentifierFunc: func(r *http.Request) string { return "tenant-a" },
		OnLimited: func(w http.ResponseWriter, r *http.Request, d Decision) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = ClientIDFromContext(r.Context())
		gotDecision = DecisionFromContext(r.Context())
	}))

	doRequest(h, "/", "")
	assert.Equal(t, "tenant-a", gotID)
	require.NotNil(t, gotDecision)
	assert.Equal(t, 4, gotDecision.Remaining)
}
