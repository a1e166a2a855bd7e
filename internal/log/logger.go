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

package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug. Used for raw tool output.
const LevelTrace = slog.Level(-8)

// Standard field keys for structured logging.
const (
	// CheckIDKey identifies a single update check invocation.
	CheckIDKey = "check_id"
	// TaskIDKey identifies a scheduled task.
	TaskIDKey = "task_id"
	// ToolKey is the maintenance tool path.
	ToolKey = "tool"
	// ExitCodeKey is a process or outcome exit code.
	ExitCodeKey = "exit_code"
	// DurationKey is the field key for duration in milliseconds.
	DurationKey = "duration_ms"
	// EventKey is the field key for event types.
	EventKey = "event"
	// ComponentKey names the subsystem that produced the record.
	ComponentKey = "component"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: json
	Format Format

	// Output is the writer for log output. Ignored when File is set.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	AddSource bool

	// File, when set, sends logs to a size-rotated file instead of Output.
	File string

	// MaxSizeMB is the rotation threshold for File.
	// Default: 5
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept.
	// Default: 5
	MaxBackups int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     FormatJSON,
		Output:     os.Stderr,
		MaxSizeMB:  5,
		MaxBackups: 5,
	}
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - AUTOUPDATER_DEBUG: true/1 to enable debug level and source logging (takes precedence)
//   - AUTOUPDATER_LOG_LEVEL: trace, debug, info, warn, error (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, text (default: json)
//   - LOG_SOURCE: 1 to enable source file/line (default: 0)
//   - AUTOUPDATER_LOG_FILE: path of a rotated log file
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("AUTOUPDATER_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("AUTOUPDATER_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	if file := os.Getenv("AUTOUPDATER_LOG_FILE"); file != "" {
		cfg.File = file
	}

	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	out := writer(cfg)

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	case FormatJSON:
		fallthrough
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

func writer(cfg *Config) io.Writer {
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 5
		}
		return &lumberjack.Logger{
			Filename:   filepath.ToSlash(cfg.File),
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     30,
			Compress:   true,
		}
	}
	if cfg.Output == nil {
		return os.Stderr
	}
	return cfg.Output
}

// ParseLevel converts a string level to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a new logger with a component name field.
// A nil logger falls back to slog.Default().
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(ComponentKey, component)
}

// WithCheck returns a new logger carrying the check ID and tool path.
func WithCheck(logger *slog.Logger, checkID, tool string) *slog.Logger {
	return logger.With(
		slog.String(CheckIDKey, checkID),
		slog.String(ToolKey, tool),
	)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Trace logs a message at trace level with optional attributes.
// Used for verbose output such as the raw bytes captured from the tool.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}
