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

// Command aegis runs the resilience gateway.
//
// Usage:
//
//	aegis serve --config aegis.yaml
//	aegis serve --config-type consul --config-endpoints localhost:8500 --config aegis/config --watch
//	aegis validate --config aegis.yaml
//	aegis version
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/aegis"
	"github.com/kadirpekel/aegis/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration source."`

	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides LOG_LEVEL and the config file."`
	LogFile   string `help:"Log file path (empty = stderr). Overrides LOG_FILE and the config file."`
	LogFormat string `help:"Log format (simple, verbose, json). Overrides LOG_FORMAT and the config file."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := aegis.GetVersion()
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "(devel)" && bi.Main.Version != "" {
			info.Version = bi.Main.Version
		}
	}
	fmt.Println(info.String())
	return nil
}

func main() {
	envErr := config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aegis"),
		kong.Description("Aegis - caching, rate limiting, retries and circuit breaking in front of an LLM API"),
		kong.UsageOnError(),
	)

	// Config file settings are applied later by serve when no flag or
	// env var overrides them.
	cleanup, err := initLogger(resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if envErr != nil {
		slog.Warn("Failed to load .env files", "error", envErr)
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
