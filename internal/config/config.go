// Copyright 2025 Tom Barlow
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

// Package config loads autoupdater configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	updatererrors "github.com/tombee/autoupdater/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete autoupdater configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Tool     ToolConfig     `yaml:"tool"`
	Check    CheckConfig    `yaml:"check"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	EventLog EventLogConfig `yaml:"event_log"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`

	// File sends logs to a rotated file instead of stderr.
	// Environment: AUTOUPDATER_LOG_FILE
	File string `yaml:"file,omitempty"`
}

// ToolConfig locates and invokes the maintenance tool.
type ToolConfig struct {
	// Path is the maintenance tool executable.
	// Environment: AUTOUPDATER_TOOL_PATH
	// Default: platform specific, next to the running executable
	Path string `yaml:"path"`

	// CheckArgs are passed when checking for updates.
	// Environment: AUTOUPDATER_CHECK_ARGS (space separated)
	// Default: [--checkupdates]
	CheckArgs []string `yaml:"check_args"`

	// RunArgs are passed when launching the updater on exit.
	// Default: [--updater]
	RunArgs []string `yaml:"run_args"`

	// RunOnExit launches the updater when the process exits.
	// Environment: AUTOUPDATER_RUN_ON_EXIT
	RunOnExit bool `yaml:"run_on_exit"`
}

// CheckConfig bounds stopping a running check.
type CheckConfig struct {
	// StopGrace is how long the tool gets to exit after the terminate signal.
	// Environment: AUTOUPDATER_STOP_GRACE
	// Default: 5s
	StopGrace time.Duration `yaml:"stop_grace"`

	// KillTimeout bounds a synchronous stop after the grace period.
	// Environment: AUTOUPDATER_KILL_TIMEOUT
	// Default: 5s
	KillTimeout time.Duration `yaml:"kill_timeout"`
}

// ScheduleConfig drives the watch command.
type ScheduleConfig struct {
	// Delay before the first check.
	// Environment: AUTOUPDATER_SCHEDULE_DELAY
	// Default: 0
	Delay time.Duration `yaml:"delay"`

	// Interval between checks when Repeat is set.
	// Environment: AUTOUPDATER_SCHEDULE_INTERVAL
	// Default: 24h
	Interval time.Duration `yaml:"interval"`

	// Repeat keeps checking every Interval.
	// Environment: AUTOUPDATER_SCHEDULE_REPEAT
	// Default: true
	Repeat bool `yaml:"repeat"`

	// ManualMinInterval rate limits checks requested over HTTP.
	// Default: 1m
	ManualMinInterval time.Duration `yaml:"manual_min_interval"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics, empty to disable.
	// Environment: AUTOUPDATER_METRICS_ADDR
	Addr string `yaml:"addr"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled exports check spans to stdout.
	// Environment: AUTOUPDATER_TRACING
	Enabled bool `yaml:"enabled"`

	// ServiceName is reported as service.name.
	// Default: autoupdater
	ServiceName string `yaml:"service_name"`
}

// EventLogConfig configures the JSON-lines audit log.
type EventLogConfig struct {
	// Path of the event log, empty to disable.
	// Environment: AUTOUPDATER_EVENT_LOG
	Path string `yaml:"path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tool: ToolConfig{
			Path:      DefaultToolPath(),
			CheckArgs: []string{"--checkupdates"},
			RunArgs:   []string{"--updater"},
		},
		Check: CheckConfig{
			StopGrace:   5 * time.Second,
			KillTimeout: 5 * time.Second,
		},
		Schedule: ScheduleConfig{
			Interval:          24 * time.Hour,
			Repeat:            true,
			ManualMinInterval: time.Minute,
		},
		Tracing: TracingConfig{
			ServiceName: "autoupdater",
		},
	}
}

// Load loads configuration from an optional YAML file, then applies
// defaults, environment overrides and validation. Environment variables
// take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &updatererrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &updatererrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Tool.Path == "" {
		c.Tool.Path = defaults.Tool.Path
	}
	if c.Tool.CheckArgs == nil {
		c.Tool.CheckArgs = defaults.Tool.CheckArgs
	}
	if c.Tool.RunArgs == nil {
		c.Tool.RunArgs = defaults.Tool.RunArgs
	}
	if c.Check.StopGrace == 0 {
		c.Check.StopGrace = defaults.Check.StopGrace
	}
	if c.Check.KillTimeout == 0 {
		c.Check.KillTimeout = defaults.Check.KillTimeout
	}
	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = defaults.Schedule.Interval
	}
	if c.Schedule.ManualMinInterval == 0 {
		c.Schedule.ManualMinInterval = defaults.Schedule.ManualMinInterval
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

func parseBool(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}
	if val := os.Getenv("AUTOUPDATER_LOG_FILE"); val != "" {
		c.Log.File = val
	}

	// Tool configuration
	if val := os.Getenv("AUTOUPDATER_TOOL_PATH"); val != "" {
		c.Tool.Path = val
	}
	if val := os.Getenv("AUTOUPDATER_CHECK_ARGS"); val != "" {
		c.Tool.CheckArgs = strings.Fields(val)
	}
	if val := os.Getenv("AUTOUPDATER_RUN_ON_EXIT"); val != "" {
		c.Tool.RunOnExit = parseBool(val)
	}

	// Check configuration
	if val := os.Getenv("AUTOUPDATER_STOP_GRACE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Check.StopGrace = d
		}
	}
	if val := os.Getenv("AUTOUPDATER_KILL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Check.KillTimeout = d
		}
	}

	// Schedule configuration
	if val := os.Getenv("AUTOUPDATER_SCHEDULE_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Schedule.Delay = d
		}
	}
	if val := os.Getenv("AUTOUPDATER_SCHEDULE_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Schedule.Interval = d
		}
	}
	if val := os.Getenv("AUTOUPDATER_SCHEDULE_REPEAT"); val != "" {
		c.Schedule.Repeat = parseBool(val)
	}

	if val := os.Getenv("AUTOUPDATER_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("AUTOUPDATER_TRACING"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
	if val := os.Getenv("AUTOUPDATER_EVENT_LOG"); val != "" {
		c.EventLog.Path = val
	}
}

// Validate checks that the configuration is valid. All problems are
// reported together.
func (c *Config) Validate() error {
	var result *multierror.Error

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		result = multierror.Append(result, fmt.Errorf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		result = multierror.Append(result, fmt.Errorf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Tool.Path == "" {
		result = multierror.Append(result, errors.New("tool.path is required"))
	}
	if len(c.Tool.RunArgs) == 0 && c.Tool.RunOnExit {
		result = multierror.Append(result, errors.New("tool.run_args must not be empty when tool.run_on_exit is set"))
	}

	if c.Check.StopGrace < 0 {
		result = multierror.Append(result, fmt.Errorf("check.stop_grace must not be negative, got %v", c.Check.StopGrace))
	}
	if c.Check.KillTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("check.kill_timeout must be positive, got %v", c.Check.KillTimeout))
	}

	if c.Schedule.Delay < 0 {
		result = multierror.Append(result, fmt.Errorf("schedule.delay must not be negative, got %v", c.Schedule.Delay))
	}
	if c.Schedule.Repeat && c.Schedule.Interval <= 0 {
		result = multierror.Append(result, fmt.Errorf("schedule.interval must be positive when repeating, got %v", c.Schedule.Interval))
	}

	if c.Schedule.ManualMinInterval < 0 {
		result = multierror.Append(result, fmt.Errorf("schedule.manual_min_interval must not be negative, got %v", c.Schedule.ManualMinInterval))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
