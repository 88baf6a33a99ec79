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
	"fmt"
	"time"
)

const (
	// DefaultLimit is the number of requests admitted per window when no rule
	// is configured.
	DefaultLimit = 100

	// DefaultWindow is the window length used when no rule is configured.
	DefaultWindow = 60 * time.Second
)

// Rule is a request budget: at most Limit requests in any Window-long
// interval.
type Rule struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// NewRule validates and returns a rule.
func NewRule(limit int, window time.Duration) (Rule, error) {
	if limit < 1 {
		return Rule{}, NewValidationError("limit", fmt.Sprintf("must be at least 1, got %d", limit))
	}
	if window <= 0 {
		return Rule{}, NewValidationError("window", fmt.Sprintf("must be positive, got %s", window))
	}
	return Rule{Limit: limit, Window: window}, nil
}

// String returns the rule in "N requests per W" form.
func (r Rule) String() string {
	return fmt.Sprintf("%d requests per %s", r.Limit, r.Window)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool `json:"allowed"`

	// RetryAfter is the number of whole seconds until the oldest request in
	// the window ages out. It is 0 when the request was allowed and at least
	// 1 when it was denied.
	RetryAfter int `json:"retry_after,omitempty"`

	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	Window    time.Duration `json:"window"`
}

// Stats is a snapshot of limiter state. Request counts are measured against
// the default window.
type Stats struct {
	ActiveClients    int           `json:"active_clients"`
	TrackedClients   int           `json:"tracked_clients"`
	RequestsInWindow int           `json:"total_requests_in_window"`
	DefaultLimit     int           `json:"default_limit"`
	DefaultWindow    time.Duration `json:"default_window"`
	CustomRules      int           `json:"custom_rules"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithOnDenied registers a callback invoked after every denied admission.
// The callback runs without any limiter lock held.
func WithOnDenied(fn func(clientID string, d Decision)) Option {
	return func(l *Limiter) {
		l.onDenied = fn
	}
}
