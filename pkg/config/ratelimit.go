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

package config

import (
	"fmt"
	"sort"
	"time"
)

// RateLimitConfig defines rate limiting configuration.
//
// Example:
//
//	rate_limit:
//	  enabled: true
//	  limit: 100
//	  window: 1m
//	  rules:
//	    "key:partner1":
//	      limit: 1000
//	      window: 1m
type RateLimitConfig struct {
	// Enabled controls whether the HTTP middleware is installed.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Limit is the default number of requests allowed per window.
	// Default: 100
	Limit int `yaml:"limit,omitempty" json:"limit,omitempty"`

	// Window is the default sliding window length. Default: 1m
	Window time.Duration `yaml:"window,omitempty" json:"window,omitempty"`

	// Rules override the default for specific client identifiers.
	Rules map[string]RateLimitRule `yaml:"rules,omitempty" json:"rules,omitempty"`

	// ExcludedPaths bypass limiting. Default: /health, /metrics
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`

	// CleanupInterval is how often idle client windows are swept.
	// Default: 5m
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty" json:"cleanup_interval,omitempty"`

	// MaxIdle is how long a client may be silent before its window is
	// dropped. Must cover every configured window. Default: 10m
	MaxIdle time.Duration `yaml:"max_idle,omitempty" json:"max_idle,omitempty"`
}

// RateLimitRule defines a single per-client rule.
type RateLimitRule struct {
	// Limit is the maximum number of requests in the window.
	Limit int `yaml:"limit" json:"limit"`

	// Window is the sliding window length.
	Window time.Duration `yaml:"window" json:"window"`
}

// IsEnabled returns true if rate limiting is enabled.
func (c *RateLimitConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}

// SetDefaults sets default values for RateLimitConfig.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Limit == 0 {
		c.Limit = 100
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
	if c.ExcludedPaths == nil {
		c.ExcludedPaths = []string{"/health", "/metrics"}
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 10 * time.Minute
		if w := c.longestWindow(); w > c.MaxIdle {
			c.MaxIdle = w
		}
	}
}

// Validate validates the RateLimitConfig.
func (c *RateLimitConfig) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be at least 1, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.Window)
	}

	clients := make([]string, 0, len(c.Rules))
	for client := range c.Rules {
		clients = append(clients, client)
	}
	sort.Strings(clients)
	for _, client := range clients {
		if err := c.validateRule(client, c.Rules[client]); err != nil {
			return err
		}
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("rate_limit.cleanup_interval must be positive, got %s", c.CleanupInterval)
	}
	if w := c.longestWindow(); c.MaxIdle < w {
		return fmt.Errorf("rate_limit.max_idle (%s) must be at least the longest window (%s)", c.MaxIdle, w)
	}

	return nil
}

func (c *RateLimitConfig) validateRule(client string, rule RateLimitRule) error {
	if client == "" {
		return fmt.Errorf("rate_limit.rules: client identifier must not be empty")
	}
	if rule.Limit < 1 {
		return fmt.Errorf("rate_limit.rules[%q].limit must be at least 1, got %d", client, rule.Limit)
	}
	if rule.Window <= 0 {
		return fmt.Errorf("rate_limit.rules[%q].window must be positive, got %s", client, rule.Window)
	}
	return nil
}

func (c *RateLimitConfig) longestWindow() time.Duration {
	longest := c.Window
	for _, r := range c.Rules {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return longest
}
