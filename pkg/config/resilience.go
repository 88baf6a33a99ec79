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
	"time"

	"github.com/kadirpekel/aegis/pkg/guard"
	"github.com/kadirpekel/aegis/pkg/retry"
)

// RetryConfig configures retries of upstream calls.
//
// Example:
//
//	retry:
//	  max_retries: 3
//	  initial_delay: 1s
//	  max_delay: 60s
//	  exponential_base: 2
//	  jitter: true
type RetryConfig struct {
	// MaxRetries after the first attempt. 0 disables retries. Default: 3
	MaxRetries *int `yaml:"max_retries,omitempty"`

	// InitialDelay before the first retry. Default: 1s
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`

	// MaxDelay caps every delay. Default: 60s
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`

	// ExponentialBase multiplies the delay per retry. Default: 2
	ExponentialBase float64 `yaml:"exponential_base,omitempty"`

	// Jitter randomises each delay into [50%, 100%]. Default: true
	Jitter *bool `yaml:"jitter,omitempty"`
}

// SetDefaults applies default values to RetryConfig.
func (c *RetryConfig) SetDefaults() {
	d := retry.DefaultConfig()
	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(d.MaxRetries)
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.ExponentialBase == 0 {
		c.ExponentialBase = d.ExponentialBase
	}
	if c.Jitter == nil {
		c.Jitter = BoolPtr(d.Jitter)
	}
}

// Validate checks the retry configuration.
func (c *RetryConfig) Validate() error {
	if err := c.Retry().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// Retry converts the section into a retry.Config.
func (c *RetryConfig) Retry() retry.Config {
	d := retry.DefaultConfig()
	return retry.Config{
		MaxRetries:      IntValue(c.MaxRetries, d.MaxRetries),
		InitialDelay:    c.InitialDelay,
		MaxDelay:        c.MaxDelay,
		ExponentialBase: c.ExponentialBase,
		Jitter:          BoolValue(c.Jitter, d.Jitter),
	}
}

// CircuitBreakerConfig configures the upstream circuit breaker.
//
// Example:
//
//	circuit_breaker:
//	  enabled: true
//	  failure_threshold: 5
//	  recovery_timeout: 60s
//	  order: breaker_outside
type CircuitBreakerConfig struct {
	// Enabled installs the breaker around upstream calls. Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// FailureThreshold consecutive failures open the circuit. Default: 5
	FailureThreshold int `yaml:"failure_threshold,omitempty"`

	// RecoveryTimeout before an open circuit admits a probe. Default: 60s
	RecoveryTimeout time.Duration `yaml:"recovery_timeout,omitempty"`

	// Order of breaker and retry: "breaker_outside" counts one failure per
	// exhausted retry sequence, "breaker_inside" one per attempt.
	// Default: breaker_outside
	Order string `yaml:"order,omitempty"`
}

// SetDefaults applies default values to CircuitBreakerConfig.
func (c *CircuitBreakerConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.Order == "" {
		c.Order = guard.BreakerOutside.String()
	}
}

// Validate checks the circuit breaker configuration.
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout must be positive, got %s", c.RecoveryTimeout)
	}
	if _, err := guard.ParseOrder(c.Order); err != nil {
		return fmt.Errorf("circuit_breaker.order: %w", err)
	}
	return nil
}

// IsEnabled returns true if the breaker is enabled.
func (c *CircuitBreakerConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}

// GuardOrder returns the parsed composition order.
func (c *CircuitBreakerConfig) GuardOrder() guard.Order {
	o, err := guard.ParseOrder(c.Order)
	if err != nil {
		return guard.BreakerOutside
	}
	return o
}
