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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/aegis/pkg/config"
	"github.com/kadirpekel/aegis/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"

	DefaultLogLevel  = "info"
	DefaultLogFormat = logger.FormatSimple
)

// logSettings is the resolved logger configuration.
type logSettings struct {
	Level  string
	File   string
	Format string

	// fromConfig is set when any value came from the config file.
	fromConfig bool
}

// resolveLogSettings picks each setting by priority:
// CLI flag > env var > config file > default. cfg may be nil.
func resolveLogSettings(cliLevel, cliFile, cliFormat string, cfg *config.LoggerConfig) logSettings {
	var s logSettings
	pick := func(flag, envVar, fromCfg, def string) string {
		if flag != "" {
			return flag
		}
		if v := os.Getenv(envVar); v != "" {
			return v
		}
		if fromCfg != "" {
			s.fromConfig = true
			return fromCfg
		}
		return def
	}

	var cfgLevel, cfgFile, cfgFormat string
	if cfg != nil {
		cfgLevel, cfgFile, cfgFormat = cfg.Level, cfg.File, cfg.Format
	}

	s.Level = pick(cliLevel, LogLevelEnvVar, cfgLevel, DefaultLogLevel)
	s.File = pick(cliFile, LogFileEnvVar, cfgFile, "")
	s.Format = pick(cliFormat, LogFormatEnvVar, cfgFormat, DefaultLogFormat)
	return s
}

// initLogger installs the default slog logger. The returned cleanup closes
// the log file and is nil when logging to stderr.
func initLogger(s logSettings) (func(), error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if !logger.ValidFormat(s.Format) {
		return nil, fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", s.Format)
	}

	var (
		output  io.Writer = os.Stderr
		cleanup func()
	)
	if s.File != "" {
		w, closeFn, err := logger.OpenLogFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = w
		cleanup = closeFn
	}

	logger.Init(level, output, s.Format)
	return cleanup, nil
}
