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
	"net/url"
	"time"
)

// UpstreamConfig points /v1/complete at an OpenAI-compatible API.
//
// Example:
//
//	upstream:
//	  base_url: https://api.openai.com/v1
//	  api_key: ${OPENAI_API_KEY}
//	  model: gpt-4o-mini
type UpstreamConfig struct {
	// BaseURL of the API, including the version prefix.
	// Default: https://api.openai.com/v1
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey sent as a bearer token. Default: $OPENAI_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// Model used when a request does not name one. Default: gpt-4o-mini
	Model string `yaml:"model,omitempty"`

	// MaxTokens for each completion. 0 leaves it to the upstream.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout bounds a single attempt. Default: 60s
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// InsecureSkipVerify disables certificate verification (dev only).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	// CACertificate is a PEM file of extra roots.
	CACertificate string `yaml:"ca_certificate,omitempty"`
}

// SetDefaults applies default values to UpstreamConfig.
func (c *UpstreamConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey("openai")
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Validate checks the upstream configuration.
func (c *UpstreamConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", c.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("upstream.max_tokens must not be negative")
	}
	return nil
}
