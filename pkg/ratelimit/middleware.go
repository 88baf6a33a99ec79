// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// IdentifierFunc extracts the client identifier from an HTTP request. An
// empty identifier lets the request through unchecked.
type IdentifierFunc func(r *http.Request) string

// apiKeyPrefixLen is how much of a credential is used as an identifier.
const apiKeyPrefixLen = 8

// DefaultIdentifierFunc identifies a client by API key when one is sent and
// by source address otherwise.
//
// Keys come from X-API-Key, then Authorization, and only their first eight
// characters are used ("key:" prefix). Addresses come from the first
// X-Forwarded-For hop, then the connection's remote host ("ip:" prefix).
func DefaultIdentifierFunc(r *http.Request) string {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.Header.Get("Authorization")
	}
	if key != "" {
		if len(key) > apiKeyPrefixLen {
			key = key[:apiKeyPrefixLen]
		}
		return "key:" + key
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return "ip:" + first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// DefaultExcludedPaths bypass rate limiting when MiddlewareConfig leaves
// ExcludedPaths nil.
var DefaultExcludedPaths = []string{"/health", "/metrics"}

// MiddlewareConfig configures the rate limiting middleware.
type MiddlewareConfig struct {
	// Limiter is the rate limiter to use. A nil limiter disables the
	// middleware.
	Limiter *Limiter

	// IdentifierFunc extracts the client identifier from requests.
	// If nil, DefaultIdentifierFunc is used.
	IdentifierFunc IdentifierFunc

	// ExcludedPaths are paths that bypass rate limiting.
	// If nil, DefaultExcludedPaths is used.
	ExcludedPaths []string

	// OnLimited is called when a request is rate limited.
	// If nil, a default JSON error response is sent.
	OnLimited func(w http.ResponseWriter, r *http.Request, d Decision)
}

// Middleware creates an HTTP middleware that enforces rate limits.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = DefaultIdentifierFunc
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = defaultOnLimited
	}
	if cfg.ExcludedPaths == nil {
		cfg.ExcludedPaths = DefaultExcludedPaths
	}

	excludedPaths := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, path := range cfg.ExcludedPaths {
		excludedPaths[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excludedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			clientID := cfg.IdentifierFunc(r)
			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}

			d := cfg.Limiter.Allow(clientID)

			ctx := context.WithValue(r.Context(), decisionKey{}, &d)
			ctx = context.WithValue(ctx, clientIDKey{}, clientID)
			r = r.WithContext(ctx)

			if !d.Allowed {
				slog.Debug("Request rate limited", "client_id", clientID, "path", r.URL.Path)
				cfg.OnLimited(w, r, d)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Window", strconv.Itoa(int(d.Window.Seconds())))

			next.ServeHTTP(w, r)
		})
	}
}

type decisionKey struct{}

type clientIDKey struct{}

// DecisionFromContext returns the admission decision stored by Middleware.
func DecisionFromContext(ctx context.Context) *Decision {
	if d, ok := ctx.Value(decisionKey{}).(*Decision); ok {
		return d
	}
	return nil
}

// ClientIDFromContext returns the client identifier resolved by Middleware.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// LimitedResponse is the body of a 429 response.
type LimitedResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after"`
	Message    string `json:"message"`
}

func defaultOnLimited(w http.ResponseWriter, _ *http.Request, d Decision) {
	retryAfter := strconv.Itoa(d.RetryAfter)

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", retryAfter)
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", retryAfter)

	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(LimitedResponse{
		Error:      "Too many requests",
		Code:       "rate_limit_exceeded",
		RetryAfter: d.RetryAfter,
		Message:    fmt.Sprintf("Rate limit exceeded. Please retry after %d seconds.", d.RetryAfter),
	})
}
