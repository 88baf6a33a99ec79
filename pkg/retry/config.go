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

package retry

import (
	"errors"
	"fmt"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// means the operation runs exactly once.
	MaxRetries int `json:"max_retries"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration `json:"max_delay"`

	// ExponentialBase multiplies the delay on every retry.
	ExponentialBase float64 `json:"exponential_base"`

	// Jitter scales each delay by a random factor in [0.5, 1.0].
	Jitter bool `json:"jitter"`
}

// DefaultConfig returns 3 retries starting at one second, doubling up to a
// minute, with jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// ErrInvalidConfig is the sentinel wrapped by ConfigError.
var ErrInvalidConfig = errors.New("invalid retry config")

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("retry config: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "max_retries", Message: fmt.Sprintf("must be >= 0, got %d", c.MaxRetries)}
	}
	if c.InitialDelay <= 0 {
		return &ConfigError{Field: "initial_delay", Message: fmt.Sprintf("must be positive, got %s", c.InitialDelay)}
	}
	if c.MaxDelay < c.InitialDelay {
		return &ConfigError{Field: "max_delay", Message: fmt.Sprintf("must be >= initial_delay (%s), got %s", c.InitialDelay, c.MaxDelay)}
	}
	if c.ExponentialBase < 1 {
		return &ConfigError{Field: "exponential_base", Message: fmt.Sprintf("must be >= 1, got %g", c.ExponentialBase)}
	}
	return nil
}
