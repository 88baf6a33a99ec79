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
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/aegis/pkg/config"
)

func TestResolveLogSettings_Priority(t *testing.T) {
	cfg := &config.LoggerConfig{Level: "warn", File: "from-config.log", Format: "json"}

	t.Run("defaults", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "")
		t.Setenv(LogFileEnvVar, "")
		t.Setenv(LogFormatEnvVar, "")

		s := resolveLogSettings("", "", "", nil)
		assert.Equal(t, logSettings{Level: "info", Format: "simple"}, s)
	})

	t.Run("config over defaults", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "")
		t.Setenv(LogFileEnvVar, "")
		t.Setenv(LogFormatEnvVar, "")

		s := resolveLogSettings("", "", "", cfg)
		assert.Equal(t, "warn", s.Level)
		assert.Equal(t, "from-config.log", s.File)
		assert.Equal(t, "json", s.Format)
		assert.True(t, s.fromConfig)
	})

	t.Run("env over config", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "debug")
		t.Setenv(LogFileEnvVar, "")
		t.Setenv(LogFormatEnvVar, "verbose")

		s := resolveLogSettings("", "", "", cfg)
		assert.Equal(t, "debug", s.Level)
		assert.Equal(t, "from-config.log", s.File)
		assert.Equal(t, "verbose", s.Format)
	})

	t.Run("flags over env", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "debug")
		t.Setenv(LogFileEnvVar, "env.log")
		t.Setenv(LogFormatEnvVar, "verbose")

		s := resolveLogSettings("error", "cli.log", "simple", cfg)
		assert.Equal(t, logSettings{Level: "error", File: "cli.log", Format: "simple"}, s)
	})
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := initLogger(logSettings{Level: "loud", Format: "simple"})
	assert.Error(t, err)

	_, err = initLogger(logSettings{Level: "info", Format: "fancy"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "aegis.log")
	cleanup, err := initLogger(logSettings{Level: "info", File: path, Format: "simple"})
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	slog.Info("hello from the test")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
}

func TestApplyAddress(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, applyAddress(cfg, ""))
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())

	require.NoError(t, applyAddress(cfg, "127.0.0.1:9090"))
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address())

	require.NoError(t, applyAddress(cfg, ":7070"))
	assert.Equal(t, "0.0.0.0:7070", cfg.Server.Address())

	assert.Error(t, applyAddress(cfg, "localhost"))
	assert.Error(t, applyAddress(cfg, "localhost:http"))
	assert.Error(t, applyAddress(cfg, "localhost:70000"))
}

func TestSourceFlags_Load(t *testing.T) {
	ctx := context.Background()

	cfg, loader, err := (&SourceFlags{ConfigType: "file"}).load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loader)
	assert.Equal(t, 8080, cfg.Server.Port)

	_, _, err = (&SourceFlags{ConfigType: "consul"}).load(ctx)
	assert.Error(t, err, "remote sources need a key path")

	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\ncache:\n  ttl: 30s\n"), 0o644))

	cfg, loader, err = (&SourceFlags{Config: path, ConfigType: "file"}).load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loader)
	defer loader.Close()
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)

	_, _, err = (&SourceFlags{Config: filepath.Join(t.TempDir(), "missing.yaml"), ConfigType: "file"}).load(ctx)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := config.Default()
	cfg.Server.APIKey = "admin-secret"
	cfg.Upstream.APIKey = "sk-secret"

	out := redacted(cfg)
	assert.Equal(t, "********", out.Server.APIKey)
	assert.Equal(t, "********", out.Upstream.APIKey)
	assert.Equal(t, "admin-secret", cfg.Server.APIKey, "the original is untouched")
}

func TestCLI_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("aegis"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{
		"--log-level", "debug",
		"serve",
		"--config", "aegis/config",
		"--config-type", "etcd",
		"--config-endpoints", "10.0.0.1:2379,10.0.0.2:2379",
		"--address", ":9000",
		"--watch",
	})
	require.NoError(t, err)
	assert.Equal(t, "serve", kctx.Command())
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "aegis/config", cli.Serve.Config)
	assert.Equal(t, "etcd", cli.Serve.ConfigType)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cli.Serve.ConfigEndpoints)
	assert.Equal(t, ":9000", cli.Serve.Address)
	assert.True(t, cli.Serve.Watch)

	_, err = parser.Parse([]string{"serve", "--config-type", "redis"})
	assert.Error(t, err)
}
