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

// Package config loads and validates aegis configuration.
//
// Configuration is YAML (or JSON) read from a provider: a local file or a key
// in consul, etcd or zookeeper. Environment references such as ${VAR} and
// ${VAR:-default} are expanded before decoding, every section applies its own
// defaults and validates itself, and a zero-length document is a valid config.
package config

import (
	"fmt"

	"github.com/kadirpekel/aegis/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	Server         ServerConfig         `yaml:"server,omitempty"`
	Logger         LoggerConfig         `yaml:"logger,omitempty"`
	Cache          CacheConfig          `yaml:"cache,omitempty"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit,omitempty"`
	Retry          RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	Upstream       UpstreamConfig       `yaml:"upstream,omitempty"`
	Observability  observability.Config `yaml:"observability,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Cache.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Retry.SetDefaults()
	c.CircuitBreaker.SetDefaults()
	c.Upstream.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate validates every section, stopping at the first error.
func (c *Config) Validate() error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"server", c.Server.Validate},
		{"logger", c.Logger.Validate},
		{"cache", c.Cache.Validate},
		{"rate_limit", c.RateLimit.Validate},
		{"retry", c.Retry.Validate},
		{"circuit_breaker", c.CircuitBreaker.Validate},
		{"upstream", c.Upstream.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
