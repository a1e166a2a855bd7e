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

package shared

import (
	"context"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/tombee/autoupdater/internal/config"
	"github.com/tombee/autoupdater/internal/lifecycle"
	"github.com/tombee/autoupdater/internal/log"
	"github.com/tombee/autoupdater/internal/tracing"
	"github.com/tombee/autoupdater/internal/updater"
)

// Runtime bundles the configured components a command works with.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Updater *updater.Updater
	Events  *lifecycle.EventLog

	tracing *tracing.Provider
}

// LoadConfig loads configuration from --config, falling back to the XDG
// config file when it exists, and applies the --tool override.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(ResolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if tool := GetToolPath(); tool != "" {
		cfg.Tool.Path = tool
	}
	return cfg, nil
}

// ResolvedConfigPath returns the config file in use, or "" when running on
// defaults and environment only.
func ResolvedConfigPath() string {
	if path := GetConfigPath(); path != "" {
		return path
	}
	return config.DefaultConfigPath()
}

// NewLogger builds the process logger from cfg and the verbosity flags.
func NewLogger(cfg *config.Config) *slog.Logger {
	logCfg := log.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = log.Format(cfg.Log.Format)
	logCfg.AddSource = cfg.Log.AddSource
	logCfg.File = cfg.Log.File

	switch {
	case GetVerbose():
		logCfg.Level = "debug"
	case GetQuiet():
		logCfg.Level = "error"
	}
	return log.New(logCfg)
}

// NewRuntime loads configuration and starts an updater. Callers must Close
// the returned runtime.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}

	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	v, _, _ := GetVersion()
	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: v,
		Writer:         os.Stderr,
	})
	if err != nil {
		return nil, NewConfigError("failed to set up tracing", err)
	}

	events := lifecycle.NewEventLog(cfg.EventLog.Path)
	sup := lifecycle.NewSupervisor(lifecycle.SupervisorConfig{
		KillTimeout: cfg.Check.KillTimeout,
		Logger:      logger,
	})

	u, err := updater.New(updater.Config{
		ToolPath:  cfg.Tool.Path,
		CheckArgs: cfg.Tool.CheckArgs,
		RunArgs:   cfg.Tool.RunArgs,
		StopGrace: cfg.Check.StopGrace,
		RunOnExit: cfg.Tool.RunOnExit,
	},
		updater.WithLogger(logger),
		updater.WithTracer(tp.Tracer()),
		updater.WithEventLog(events),
		updater.WithSupervisor(sup),
	)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, NewConfigError("failed to create updater", err)
	}
	u.Start(ctx)

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Updater: u,
		Events:  events,
		tracing: tp,
	}, nil
}

// Close shuts down the updater, launching the updater tool if armed, and
// flushes pending spans.
func (r *Runtime) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := r.Updater.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.tracing.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
