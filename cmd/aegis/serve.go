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
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kadirpekel/aegis/pkg/config"
	"github.com/kadirpekel/aegis/pkg/config/provider"
	"github.com/kadirpekel/aegis/pkg/observability"
	"github.com/kadirpekel/aegis/pkg/server"
)

// SourceFlags select where configuration is read from.
type SourceFlags struct {
	Config          string   `short:"c" help:"Config file path, or key path for remote sources." placeholder:"PATH"`
	ConfigType      string   `name:"config-type" help:"Config source (file, consul, etcd, zookeeper)." default:"file" enum:"file,consul,etcd,zookeeper,zk"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints for remote config sources." sep:"," placeholder:"HOST:PORT"`
}

// load returns the configuration and, when a source was given, its loader.
// Without --config the defaults are used.
func (f *SourceFlags) load(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if f.Config == "" {
		if f.ConfigType != "" && f.ConfigType != string(provider.TypeFile) {
			return nil, nil, fmt.Errorf("--config is required for --config-type %s", f.ConfigType)
		}
		return config.Default(), nil, nil
	}

	typ, err := provider.ParseType(f.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	cfg, loader, err := config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      typ,
		Path:      f.Config,
		Endpoints: f.ConfigEndpoints,
	}, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s %s: %w", typ, f.Config, err)
	}
	return cfg, loader, nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	SourceFlags `embed:""`

	Address string `help:"Listen address (host:port). Overrides server.host and server.port." placeholder:"HOST:PORT"`
	Watch   bool   `help:"Reload configuration when the source changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	var srv *server.Server
	onChange := func(cfg *config.Config) {
		if srv == nil {
			return
		}
		if err := applyAddress(cfg, c.Address); err != nil {
			slog.Error("Ignoring reloaded config", "error", err)
			return
		}
		if err := srv.ApplyConfig(cfg); err != nil {
			slog.Error("Failed to apply reloaded config", "error", err)
		}
	}

	cfg, loader, err := c.load(ctx, config.WithOnChange(onChange))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	settings := resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger)
	if settings.fromConfig {
		cleanup, err := initLogger(settings)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
	}

	if err := applyAddress(cfg, c.Address); err != nil {
		return err
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	srv, err = server.New(cfg, server.WithObservability(obs))
	if err != nil {
		_ = obs.Shutdown(context.Background())
		return err
	}

	if c.Watch {
		if loader == nil {
			slog.Warn("--watch has no effect without --config")
		} else {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
	}

	slog.Info("Aegis ready",
		"address", srv.Address(),
		"upstream", cfg.Upstream.BaseURL,
		"cache", cfg.Cache.IsEnabled(),
		"rate_limit", cfg.RateLimit.IsEnabled(),
		"circuit_breaker", cfg.CircuitBreaker.IsEnabled())

	return srv.Start(ctx)
}

// applyAddress overrides server.host and server.port from a host:port
// string. An empty address leaves cfg unchanged.
func applyAddress(cfg *config.Config, address string) error {
	if address == "" {
		return nil
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid --address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port in --address %q", address)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	cfg.Server.Host = host
	cfg.Server.Port = port
	return nil
}
