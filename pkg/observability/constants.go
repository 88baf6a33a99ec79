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

// Package observability provides OpenTelemetry tracing and Prometheus metrics.
//
// # Architecture
//
// The observability system has two components:
//
//  1. Tracing: OpenTelemetry spans exported over OTLP gRPC or to stdout
//  2. Metrics: OpenTelemetry instruments read by a Prometheus exporter and
//     served from a dedicated registry
//
// Component state (cache entries, limiter clients, breaker state) is not
// pushed; it is observed at scrape time through callbacks registered with
// RegisterCache, RegisterLimiter and RegisterBreaker.
//
// A nil *Metrics or *Tracer is valid and records nothing, so callers never
// branch on whether observability is enabled.
//
// # Configuration
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    sampling_rate: 1.0
//	  metrics:
//	    enabled: true
//	    endpoint: /metrics
package observability

// =============================================================================
// Service Attributes
// =============================================================================

const (
	// AttrServiceName is the logical name of the service.
	AttrServiceName = "service.name"

	// AttrServiceVersion is the version of the service.
	AttrServiceVersion = "service.version"
)

// =============================================================================
// Resilience Attributes
// =============================================================================

const (
	AttrGuardName  = "aegis.guard.name"
	AttrGuardOrder = "aegis.guard.order"
	AttrCacheHit   = "aegis.cache.hit"
	AttrClientID   = "aegis.ratelimit.client_id"
	AttrUpstream   = "aegis.upstream.model"
)

// =============================================================================
// HTTP Attributes
// =============================================================================

const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response.body.size"
	AttrRequestID        = "http.request_id"
)

// =============================================================================
// Error Attributes
// =============================================================================

const (
	AttrErrorType = "error.type"
)

// =============================================================================
// Span Names
// =============================================================================

const (
	SpanHTTPRequest  = "http.request"
	SpanGuardDo      = "guard.do"
	SpanUpstreamCall = "upstream.call"
)

// =============================================================================
// Guard Outcomes
// =============================================================================

const (
	GuardOutcomeCacheHit = "cache_hit"
	GuardOutcomeSuccess  = "success"
	GuardOutcomeError    = "error"
	GuardOutcomeRejected = "rejected"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultServiceName   = "aegis"
	DefaultNamespace     = "aegis"
	DefaultMetricsPath   = "/metrics"
	DefaultOTLPEndpoint  = "localhost:4317"
	DefaultSamplingRate  = 1.0
)
