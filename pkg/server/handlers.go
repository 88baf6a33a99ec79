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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/guard"
	"github.com/kadirpekel/aegis/pkg/httpclient"
	"github.com/kadirpekel/aegis/pkg/observability"
)

// maxPromptLength is the longest accepted prompt, in characters.
const maxPromptLength = 10000

// Component health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusDisabled  = "disabled"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentHealth `json:"components"`
}

// ComponentHealth summarizes one component.
type ComponentHealth struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	components := map[string]ComponentHealth{
		"cache":           s.cacheHealth(),
		"rate_limit":      s.rateLimitHealth(),
		"circuit_breaker": s.breakerHealth(),
	}

	status := StatusHealthy
	for _, c := range components {
		if c.Status == StatusDegraded || c.Status == StatusUnhealthy {
			status = StatusDegraded
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		Components:    components,
	})
}

func (s *Server) cacheHealth() ComponentHealth {
	stats := s.cache.Stats()
	status := StatusHealthy
	if !stats.Enabled {
		status = StatusDisabled
	}
	return ComponentHealth{
		Status: status,
		Details: map[string]any{
			"entries":  stats.TotalEntries,
			"capacity": stats.Capacity,
			"hit_rate": stats.HitRate,
		},
	}
}

func (s *Server) rateLimitHealth() ComponentHealth {
	if !s.rateLimited.Load() {
		return ComponentHealth{Status: StatusDisabled}
	}
	stats := s.limiter.Stats()
	return ComponentHealth{
		Status: StatusHealthy,
		Details: map[string]any{
			"tracked_clients": stats.TrackedClients,
			"active_clients":  stats.ActiveClients,
		},
	}
}

func (s *Server) breakerHealth() ComponentHealth {
	if s.breaker == nil {
		return ComponentHealth{Status: StatusDisabled}
	}
	stats := s.breaker.Stats()

	status := StatusHealthy
	switch stats.State {
	case breaker.StateHalfOpen:
		status = StatusDegraded
	case breaker.StateOpen:
		status = StatusUnhealthy
	}
	return ComponentHealth{
		Status: status,
		Details: map[string]any{
			"state":         stats.State.String(),
			"failure_count": stats.FailureCount,
		},
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.shutdown.Ready() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	reason := "starting"
	if s.shutdown.ShuttingDown() {
		reason = "shutting_down"
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": reason})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// CompleteRequest is the body of POST /v1/complete.
type CompleteRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// NoCache skips the cache lookup and does not store the result.
	NoCache bool `json:"no_cache,omitempty"`
}

// CompleteResponse is the body of a successful POST /v1/complete.
type CompleteResponse struct {
	httpclient.CompletionResponse
	Cached bool `json:"cached"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}
	if n := utf8.RuneCountInString(req.Prompt); n > maxPromptLength {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("prompt is %d characters, maximum is %d", n, maxPromptLength))
		return
	}
	if req.MaxTokens < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "max_tokens must not be negative")
		return
	}

	upstreamCfg := s.Config().Upstream
	upReq := httpclient.CompletionRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if upReq.Model == "" {
		upReq.Model = upstreamCfg.Model
	}
	if upReq.MaxTokens == 0 {
		upReq.MaxTokens = upstreamCfg.MaxTokens
	}

	key := ""
	if !req.NoCache {
		key = guard.Key(upReq.Model, upReq.Prompt)
	}

	called := false
	resp, err := s.guard.Do(r.Context(), key, func(ctx context.Context) (httpclient.CompletionResponse, error) {
		called = true
		return s.callUpstream(ctx, upReq)
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CompleteResponse{
		CompletionResponse: resp,
		Cached:             !called,
	})
}

func (s *Server) callUpstream(ctx context.Context, req httpclient.CompletionRequest) (httpclient.CompletionResponse, error) {
	ctx, span := observability.GetTracer("aegis.upstream").Start(ctx, observability.SpanUpstreamCall,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(observability.AttrUpstream, req.Model)),
	)
	defer span.End()

	resp, err := s.upstream.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return httpclient.CompletionResponse{}, err
	}
	return *resp, nil
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())

	var openErr *breaker.OpenError
	switch {
	case errors.As(err, &openErr):
		retryAfter := int(math.Ceil(openErr.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusServiceUnavailable, "circuit_open",
			fmt.Sprintf("Upstream is unavailable. Please retry after %d seconds.", retryAfter))

	case errors.Is(err, context.Canceled):
		slog.Debug("Completion cancelled by client", "request_id", requestID)

	case errors.Is(err, context.DeadlineExceeded):
		slog.Error("Completion timed out", "request_id", requestID, "error", err)
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "Upstream request timed out")

	case httpclient.IsRetryable(err):
		attempts := s.retryer.Config().MaxRetries + 1
		slog.Error("Completion failed", "request_id", requestID, "attempts", attempts, "error", err)
		writeError(w, http.StatusBadGateway, "retries_exhausted",
			fmt.Sprintf("Upstream failed after %d attempts: %v", attempts, err))

	default:
		slog.Error("Completion failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}
