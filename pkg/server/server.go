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
	"net"
	"net/http"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/aegis"
	"github.com/kadirpekel/aegis/pkg/breaker"
	"github.com/kadirpekel/aegis/pkg/cache"
	"github.com/kadirpekel/aegis/pkg/config"
	"github.com/kadirpekel/aegis/pkg/guard"
	"github.com/kadirpekel/aegis/pkg/httpclient"
	"github.com/kadirpekel/aegis/pkg/maintenance"
	"github.com/kadirpekel/aegis/pkg/observability"
	"github.com/kadirpekel/aegis/pkg/ratelimit"
	"github.com/kadirpekel/aegis/pkg/retry"
)

const (
	upstreamName     = "upstream"
	completionsCache = "completions"
	limiterName      = "http"
)

// Completer performs a single completion attempt against the upstream.
type Completer interface {
	Complete(ctx context.Context, req httpclient.CompletionRequest) (*httpclient.CompletionResponse, error)
}

// Server is the aegis HTTP server.
type Server struct {
	cfg atomic.Pointer[config.Config]

	cache       *cache.Cache[httpclient.CompletionResponse]
	limiter     *ratelimit.Limiter
	rateLimited atomic.Bool
	breaker     *breaker.Breaker
	retryer     *retry.Retryer
	guard       *guard.Guard[httpclient.CompletionResponse]
	upstream    Completer

	observability *observability.Manager
	metrics       *observability.Metrics

	sweeper  *maintenance.Sweeper
	shutdown *maintenance.Shutdown

	handler http.Handler
	now     func() time.Time
	started time.Time
	version string

	mu     sync.Mutex
	server *http.Server
}

// Option configures the Server.
type Option func(*Server)

// WithObservability sets the observability manager for tracing and metrics.
// The manager must already be initialized.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.observability = obs
	}
}

// WithCompleter replaces the HTTP upstream client.
func WithCompleter(c Completer) Option {
	return func(s *Server) {
		s.upstream = c
	}
}

// WithClock overrides the time source of the cache, limiter and breaker.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithVersion overrides the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New builds every component from cfg. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		now:     time.Now,
		version: aegis.Version,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	s.cfg.Store(cfg)

	if s.observability != nil {
		s.metrics = s.observability.Metrics()
	}

	if err := s.buildComponents(cfg); err != nil {
		return nil, err
	}
	if err := s.registerMetrics(); err != nil {
		return nil, err
	}

	sweeper, err := maintenance.NewSweeper(
		maintenance.CacheTask(completionsCache, cfg.Cache.CleanupInterval, s.cache),
		maintenance.LimiterTask(limiterName, cfg.RateLimit.CleanupInterval, cfg.RateLimit.MaxIdle, s.limiter),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper: %w", err)
	}
	s.sweeper = sweeper

	// Tasks run in reverse: listener first, observability last.
	s.shutdown = maintenance.NewShutdown(cfg.Server.ShutdownTimeout)
	s.shutdown.Register("observability", func(ctx context.Context) error {
		if s.observability == nil {
			return nil
		}
		return s.observability.Shutdown(ctx)
	})
	s.shutdown.Register("sweeper", func(context.Context) error {
		return s.sweeper.Stop()
	})
	s.shutdown.Register("cache", func(context.Context) error {
		s.cache.Clear()
		return nil
	})
	s.shutdown.Register("http", s.shutdownHTTP)

	s.handler = s.routes(cfg)
	return s, nil
}

func (s *Server) buildComponents(cfg *config.Config) error {
	c, err := cache.New[httpclient.CompletionResponse](cfg.Cache.Capacity, cfg.Cache.TTL,
		cache.WithName(completionsCache),
		cache.WithClock(s.now),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	c.SetEnabled(cfg.Cache.IsEnabled())
	s.cache = c

	rules, err := limiterRules(cfg.RateLimit.Rules)
	if err != nil {
		return err
	}
	l, err := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window,
		ratelimit.WithClock(s.now),
		ratelimit.WithOnDenied(func(clientID string, _ ratelimit.Decision) {
			s.metrics.RecordRateLimitDenied(context.Background(), clientID)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if err := l.ReplaceRules(rules); err != nil {
		return fmt.Errorf("failed to install rate limit rules: %w", err)
	}
	s.limiter = l
	s.rateLimited.Store(cfg.RateLimit.IsEnabled())

	if cfg.CircuitBreaker.IsEnabled() {
		b, err := breaker.New(breaker.Settings{
			Name:             upstreamName,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
			IsFailure:        httpclient.IsRetryable,
			OnStateChange:    s.onBreakerTransition,
			Now:              s.now,
		})
		if err != nil {
			return fmt.Errorf("failed to create circuit breaker: %w", err)
		}
		s.breaker = b
	}

	r, err := retry.New(cfg.Retry.Retry(),
		retry.WithName(upstreamName),
		retry.WithRetryable(retry.Matching(isRetryableUpstream)),
		retry.WithOnRetry(s.onRetry),
		retry.WithOnExhausted(s.onRetryExhausted),
	)
	if err != nil {
		return fmt.Errorf("failed to create retryer: %w", err)
	}
	s.retryer = r

	if s.upstream == nil {
		s.upstream = newUpstreamClient(cfg.Upstream)
	}

	s.guard = guard.New(guard.Settings[httpclient.CompletionResponse]{
		Name:    upstreamName,
		Cache:   s.cache,
		Retryer: s.retryer,
		Breaker: s.breaker,
		Order:   cfg.CircuitBreaker.GuardOrder(),
		Metrics: s.metrics,
	})
	return nil
}

func (s *Server) registerMetrics() error {
	if s.metrics == nil {
		return nil
	}
	if err := s.metrics.RegisterCache(completionsCache, s.cache); err != nil {
		return err
	}
	if err := s.metrics.RegisterLimiter(limiterName, s.limiter); err != nil {
		return err
	}
	if s.breaker != nil {
		if err := s.metrics.RegisterBreaker(s.breaker); err != nil {
			return err
		}
	}
	return nil
}

func newUpstreamClient(cfg config.UpstreamConfig) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithAPIKey(cfg.APIKey),
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	}
	if cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}
	return httpclient.New(opts...)
}

// isRetryableUpstream retries classified upstream failures but never a
// breaker rejection, so an inner breaker fails the loop fast.
func isRetryableUpstream(err error) bool {
	return !breaker.IsOpen(err) && httpclient.IsRetryable(err)
}

func (s *Server) onRetry(err error, attempt int) {
	slog.Warn("Retrying upstream call",
		"attempt", attempt,
		"status", httpclient.StatusCode(err),
		"error", err)
	s.metrics.RecordRetry(context.Background(), upstreamName, attempt)
}

func (s *Server) onRetryExhausted(_ error, _ int) {
	s.metrics.RecordRetryExhausted(context.Background(), upstreamName)
}

func (s *Server) onBreakerTransition(name string, from, to breaker.State) {
	s.metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
}

func limiterRules(rules map[string]config.RateLimitRule) (map[string]ratelimit.Rule, error) {
	out := make(map[string]ratelimit.Rule, len(rules))
	for client, r := range rules {
		rule, err := ratelimit.NewRule(r.Limit, r.Window)
		if err != nil {
			return nil, fmt.Errorf("rate limit rule %q: %w", client, err)
		}
		out[client] = rule
	}
	return out, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.Config().Server.Address()
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then runs the shutdown sequence.
// Background sweeps run for the lifetime of the call.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg := s.Config().Server

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if err := s.sweeper.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	slog.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.shutdown.MarkReady()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		_ = s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown flips readiness off and runs every registered cleanup task.
// Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.shutdown.Run(ctx)
}

func (s *Server) shutdownHTTP(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	return srv.Shutdown(ctx)
}

// ApplyConfig hot-applies a reloaded configuration. Rules are validated
// before anything changes, so a rejected config leaves the server untouched.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil configuration")
	}
	defaultRule, err := ratelimit.NewRule(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if err != nil {
		return fmt.Errorf("rate limit default rule: %w", err)
	}
	rules, err := limiterRules(cfg.RateLimit.Rules)
	if err != nil {
		return err
	}

	prev := s.cfg.Swap(cfg)

	s.cache.SetEnabled(cfg.Cache.IsEnabled())
	s.rateLimited.Store(cfg.RateLimit.IsEnabled())
	if err := s.limiter.SetDefaultRule(defaultRule.Limit, defaultRule.Window); err != nil {
		return err
	}
	if err := s.limiter.ReplaceRules(rules); err != nil {
		return err
	}

	if pending := restartRequired(prev, cfg); len(pending) > 0 {
		slog.Warn("Configuration changes need a restart to take effect", "settings", pending)
	}
	slog.Info("Configuration applied",
		"cache_enabled", cfg.Cache.IsEnabled(),
		"rate_limit_enabled", cfg.RateLimit.IsEnabled(),
		"rate_limit_rules", len(rules))
	return nil
}

func restartRequired(prev, next *config.Config) []string {
	var pending []string
	if prev.Server.Address() != next.Server.Address() {
		pending = append(pending, "server.address")
	}
	if prev.Upstream.BaseURL != next.Upstream.BaseURL ||
		prev.Upstream.APIKey != next.Upstream.APIKey ||
		prev.Upstream.Timeout != next.Upstream.Timeout {
		pending = append(pending, "upstream")
	}
	if !reflect.DeepEqual(prev.Retry, next.Retry) {
		pending = append(pending, "retry")
	}
	if !reflect.DeepEqual(prev.CircuitBreaker, next.CircuitBreaker) {
		pending = append(pending, "circuit_breaker")
	}
	if !slices.Equal(prev.RateLimit.ExcludedPaths, next.RateLimit.ExcludedPaths) {
		pending = append(pending, "rate_limit.excluded_paths")
	}
	if prev.Cache.Capacity != next.Cache.Capacity || prev.Cache.TTL != next.Cache.TTL {
		pending = append(pending, "cache")
	}
	return pending
}
