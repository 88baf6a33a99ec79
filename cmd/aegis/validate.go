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

package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/aegis/pkg/config"
)

// ValidateCmd validates a configuration source.
type ValidateCmd struct {
	SourceFlags `embed:""`

	Print bool `help:"Print the effective configuration, defaults included."`
}

func (c *ValidateCmd) Run() error {
	if c.Config == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, loader, err := c.load(context.Background())
	if err != nil {
		return err
	}
	defer loader.Close()

	fmt.Printf("Configuration is valid: %s\n", c.Config)

	if c.Print {
		out, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		_, _ = os.Stdout.Write(out)
	}
	return nil
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Server.APIKey != "" {
		out.Server.APIKey = "********"
	}
	if out.Upstream.APIKey != "" {
		out.Upstream.APIKey = "********"
	}
	return &out
}
