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
)

// CacheConfig configures the response cache.
//
// Example:
//
//	cache:
//	  enabled: true
//	  capacity: 10000
//	  ttl: 1h
//	  cleanup_interval: 5m
type CacheConfig struct {
	// Enabled is the global cache switch. It can be flipped by a config
	// reload without restarting. Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Capacity bounds the number of entries. Default: 10000
	Capacity int `yaml:"capacity,omitempty"`

	// TTL is the default entry lifetime. Default: 1h
	TTL time.Duration `yaml:"ttl,omitempty"`

	// CleanupInterval is how often expired entries are swept. Default: 5m
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
}

// SetDefaults applies default values to CacheConfig.
func (c *CacheConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Capacity == 0 {
		c.Capacity = 10000
	}
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be at least 1, got %d", c.Capacity)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.TTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cache.cleanup_interval must be positive, got %s", c.CleanupInterval)
	}
	return nil
}

// IsEnabled returns true if caching is enabled.
func (c *CacheConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}
