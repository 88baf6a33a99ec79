// Package aegis is a resilience gateway for LLM completion APIs.
//
// Aegis sits between clients and an upstream completion endpoint and adds
// the protections that a shared, rate-limited, occasionally flaky API needs:
// a TTL cache with LRU eviction, per-client sliding-window rate limiting,
// retries with exponential backoff and jitter, and a circuit breaker.
//
// # Quick Start
//
// Install Aegis:
//
//	go install github.com/kadirpekel/aegis/cmd/aegis@latest
//
// Write a configuration:
//
//	server:
//	  port: 8080
//	upstream:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	rate_limit:
//	  limit: 100
//	  window: 1m
//
// Start the server:
//
//	aegis serve --config aegis.yaml
//
// # Packages
//
// The building blocks are usable on their own:
//
//   - pkg/cache: bounded TTL cache with LRU eviction
//   - pkg/ratelimit: sliding-window limiter with per-client rules and HTTP middleware
//   - pkg/retry: retry with exponential backoff and jitter
//   - pkg/breaker: three-state circuit breaker
//   - pkg/guard: composes cache, retry and breaker around one call
//
// pkg/server wires them behind an HTTP API; pkg/config loads configuration
// from a file, Consul, etcd or ZooKeeper and supports hot reload.
package aegis
