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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/cache"
	"github.com/kadirpekel/aegis/pkg/ratelimit"
)

// StatsResponse is the body of GET /v1/admin/stats.
type StatsResponse struct {
	Cache          cache.Stats    `json:"cache"`
	RateLimit      RateLimitStats `json:"rate_limit"`
	CircuitBreaker *breaker.Stats `json:"circuit_breaker"`
	Retry          RetryInfo      `json:"retry"`
	Upstream       UpstreamInfo   `json:"upstream"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
}

// RateLimitStats adds the switch and custom rules to the limiter snapshot.
type RateLimitStats struct {
	ratelimit.Stats
	Enabled bool                `json:"enabled"`
	Rules   map[string]RuleInfo `json:"rules"`
}

// RuleInfo is a rate limit rule with the window in seconds.
type RuleInfo struct {
	Limit         int     `json:"limit"`
	WindowSeconds float64 `json:"window_seconds"`
}

// RetryInfo describes the upstream retry policy.
type RetryInfo struct {
	MaxRetries      int     `json:"max_retries"`
	InitialDelay    string  `json:"initial_delay"`
	MaxDelay        string  `json:"max_delay"`
	ExponentialBase float64 `json:"exponential_base"`
	Jitter          bool    `json:"jitter"`
}

// UpstreamInfo describes the upstream without credentials.
type UpstreamInfo struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	Timeout string `json:"timeout"`
}

// StatusResponse acknowledges an admin action.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Count   *int   `json:"count,omitempty"`
}

func ok(message string) StatusResponse {
	return StatusResponse{Status: "ok", Message: message}
}

func okCount(message string, n int) StatusResponse {
	return StatusResponse{Status: "ok", Message: message, Count: &n}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Config()

	rules := make(map[string]RuleInfo)
	for client, rule := range s.limiter.Rules() {
		rules[client] = RuleInfo{Limit: rule.Limit, WindowSeconds: rule.Window.Seconds()}
	}

	var breakerStats *breaker.Stats
	if s.breaker != nil {
		st := s.breaker.Stats()
		breakerStats = &st
	}

	rc := s.retryer.Config()
	writeJSON(w, http.StatusOK, StatsResponse{
		Cache: s.cache.Stats(),
		RateLimit: RateLimitStats{
			Stats:   s.limiter.Stats(),
			Enabled: s.rateLimited.Load(),
			Rules:   rules,
		},
		CircuitBreaker: breakerStats,
		Retry: RetryInfo{
			MaxRetries:      rc.MaxRetries,
			InitialDelay:    rc.InitialDelay.String(),
			MaxDelay:        rc.MaxDelay.String(),
			ExponentialBase: rc.ExponentialBase,
			Jitter:          rc.Jitter,
		},
		Upstream: UpstreamInfo{
			BaseURL: cfg.Upstream.BaseURL,
			Model:   cfg.Upstream.Model,
			Timeout: cfg.Upstream.Timeout.String(),
		},
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	n := s.cache.Size()
	s.cache.Clear()
	writeJSON(w, http.StatusOK, okCount("Cache cleared", n))
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, _ *http.Request) {
	n := s.cache.CleanupExpired()
	writeJSON(w, http.StatusOK, okCount("Expired entries removed", n))
}

func (s *Server) handleCacheResetStats(w http.ResponseWriter, _ *http.Request) {
	s.cache.ResetStats()
	writeJSON(w, http.StatusOK, ok("Cache statistics reset"))
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.cache.Delete(key) {
		writeError(w, http.StatusNotFound, "key_not_found", fmt.Sprintf("No cache entry for key %q", key))
		return
	}
	writeJSON(w, http.StatusOK, ok("Cache entry deleted"))
}

// RateLimitResetRequest is the optional body of POST /v1/admin/ratelimit/reset.
// Without a client id every client is reset.
type RateLimitResetRequest struct {
	ClientID string `json:"client_id,omitempty"`
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var req RateLimitResetRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if req.ClientID == "" {
		s.limiter.ResetAll()
		writeJSON(w, http.StatusOK, ok("All rate limits reset"))
		return
	}
	s.limiter.Reset(req.ClientID)
	writeJSON(w, http.StatusOK, ok(fmt.Sprintf("Rate limit reset for %s", req.ClientID)))
}

// RuleRequest is the body of PUT /v1/admin/ratelimit/rules/{client}. The
// window is either a duration string or a number of seconds.
type RuleRequest struct {
	Limit         int     `json:"limit"`
	Window        string  `json:"window,omitempty"`
	WindowSeconds float64 `json:"window_seconds,omitempty"`
}

func (r RuleRequest) window() (time.Duration, error) {
	if r.Window != "" {
		d, err := time.ParseDuration(r.Window)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q: %w", r.Window, err)
		}
		return d, nil
	}
	if r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds * float64(time.Second)), nil
	}
	return 0, errors.New("window or window_seconds is required")
}

func (s *Server) handleRateLimitSetRule(w http.ResponseWriter, r *http.Request) {
	client, err := clientParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req RuleRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	window, err := req.window()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}

	if err := s.limiter.SetRule(client, req.Limit, window); err != nil {
		var verr *ratelimit.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "invalid_rule", verr.Error())
			return
		}
		slog.Error("Failed to set rate limit rule", "client_id", client, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RuleInfo{Limit: req.Limit, WindowSeconds: window.Seconds()})
}

func (s *Server) handleRateLimitRemoveRule(w http.ResponseWriter, r *http.Request) {
	client, err := clientParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, exists := s.limiter.Rules()[client]; !exists {
		writeError(w, http.StatusNotFound, "rule_not_found", fmt.Sprintf("No custom rule for %s", client))
		return
	}
	s.limiter.RemoveRule(client)
	writeJSON(w, http.StatusOK, ok(fmt.Sprintf("Rule removed for %s", client)))
}

func clientParam(r *http.Request) (string, error) {
	client, err := url.PathUnescape(chi.URLParam(r, "client"))
	if err != nil {
		return "", fmt.Errorf("invalid client id: %w", err)
	}
	if client == "" {
		return "", errors.New("client id is required")
	}
	return client, nil
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, _ *http.Request) {
	if s.breaker == nil {
		writeError(w, http.StatusNotFound, "breaker_disabled", "Circuit breaker is disabled")
		return
	}
	s.breaker.Reset()
	writeJSON(w, http.StatusOK, ok("Circuit breaker reset"))
}
