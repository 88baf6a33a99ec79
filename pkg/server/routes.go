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

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/aegis/pkg/config"
	"github.com/kadirpekel/aegis/pkg/observability"
	"github.com/kadirpekel/aegis/pkg/ratelimit"
)

// routes builds the router. Middleware order, outermost first:
// observability -> request id -> recoverer -> logging -> cors -> rate limit.
func (s *Server) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.HTTPMiddleware(s.metrics))
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware(cfg))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	if s.metrics != nil {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Endpoint, s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/complete", s.handleComplete)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.Use(s.apiKeyMiddleware)

			r.Get("/stats", s.handleStats)

			r.Post("/cache/clear", s.handleCacheClear)
			r.Post("/cache/cleanup", s.handleCacheCleanup)
			r.Post("/cache/reset-stats", s.handleCacheResetStats)
			r.Delete("/cache/{key}", s.handleCacheDelete)

			r.Post("/ratelimit/reset", s.handleRateLimitReset)
			r.Put("/ratelimit/rules/{client}", s.handleRateLimitSetRule)
			r.Delete("/ratelimit/rules/{client}", s.handleRateLimitRemoveRule)

			r.Post("/breaker/reset", s.handleBreakerReset)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	return r
}

// rateLimitMiddleware installs the limiter behind a switch that ApplyConfig
// can flip. The metrics endpoint is always exempt.
func (s *Server) rateLimitMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	excluded := append([]string(nil), cfg.RateLimit.ExcludedPaths...)
	if endpoint := cfg.Observability.Metrics.Endpoint; endpoint != "" {
		excluded = append(excluded, endpoint)
	}

	limit := ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter:       s.limiter,
		ExcludedPaths: excluded,
	})

	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.rateLimited.Load() {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
