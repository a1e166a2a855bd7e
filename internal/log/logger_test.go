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
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.File != "" {
		t.Errorf("expected no default log file, got %q", cfg.File)
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		envVars    map[string]string
		wantLevel  string
		wantFormat Format
		wantSource bool
		wantFile   string
	}{
		{
			name:       "defaults when no env vars",
			envVars:    map[string]string{},
			wantLevel:  "info",
			wantFormat: FormatJSON,
		},
		{
			name:       "LOG_LEVEL=DEBUG (case insensitive)",
			envVars:    map[string]string{"LOG_LEVEL": "DEBUG"},
			wantLevel:  "debug",
			wantFormat: FormatJSON,
		},
		{
			name:       "AUTOUPDATER_LOG_LEVEL wins over LOG_LEVEL",
			envVars:    map[string]string{"LOG_LEVEL": "error", "AUTOUPDATER_LOG_LEVEL": "warn"},
			wantLevel:  "warn",
			wantFormat: FormatJSON,
		},
		{
			name:       "AUTOUPDATER_DEBUG enables debug and source",
			envVars:    map[string]string{"AUTOUPDATER_DEBUG": "1", "LOG_LEVEL": "error"},
			wantLevel:  "debug",
			wantFormat: FormatJSON,
			wantSource: true,
		},
		{
			name:       "text format and log file",
			envVars:    map[string]string{"LOG_FORMAT": "text", "AUTOUPDATER_LOG_FILE": "/var/log/autoupdater.log"},
			wantLevel:  "info",
			wantFormat: FormatText,
			wantFile:   "/var/log/autoupdater.log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"AUTOUPDATER_DEBUG", "AUTOUPDATER_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE", "AUTOUPDATER_LOG_FILE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.wantLevel {
				t.Errorf("expected level %q, got %q", tt.wantLevel, cfg.Level)
			}
			if cfg.Format != tt.wantFormat {
				t.Errorf("expected format %q, got %q", tt.wantFormat, cfg.Format)
			}
			if cfg.AddSource != tt.wantSource {
				t.Errorf("expected AddSource %v, got %v", tt.wantSource, cfg.AddSource)
			}
			if cfg.File != tt.wantFile {
				t.Errorf("expected File %q, got %q", tt.wantFile, cfg.File)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	logger.Info("check finished", ExitCodeKey, 1)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}
	if entry["msg"] != "check finished" {
		t.Errorf("expected msg 'check finished', got: %v", entry["msg"])
	}
	if entry[ExitCodeKey] != float64(1) {
		t.Errorf("expected exit_code 1, got: %v", entry[ExitCodeKey])
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got: %v", entry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("check started", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "check started") || !strings.Contains(output, "key=value") {
		t.Errorf("unexpected text output: %s", output)
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "autoupdater.log")

	logger := New(&Config{Level: "info", Format: FormatJSON, File: path})
	logger.Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := ParseLevel(tt.input); level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestWithCheck(t *testing.T) {
	var buf bytes.Buffer

	logger := WithCheck(WithComponent(New(&Config{Level: "info", Format: FormatJSON, Output: &buf}), "updater"), "abc-123", "/opt/app/maintenancetool")
	logger.Warn("check failed", Error(errors.New("exit status 3")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if entry[ComponentKey] != "updater" {
		t.Errorf("expected component 'updater', got %v", entry[ComponentKey])
	}
	if entry[CheckIDKey] != "abc-123" {
		t.Errorf("expected check_id 'abc-123', got %v", entry[CheckIDKey])
	}
	if entry[ToolKey] != "/opt/app/maintenancetool" {
		t.Errorf("expected tool path, got %v", entry[ToolKey])
	}
	if entry["error"] != "exit status 3" {
		t.Errorf("expected error attribute, got %v", entry["error"])
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer

	Trace(New(&Config{Level: "debug", Format: FormatText, Output: &buf}), "raw output")
	if buf.Len() != 0 {
		t.Errorf("trace should be suppressed at debug level, got: %s", buf.String())
	}

	Trace(New(&Config{Level: "trace", Format: FormatText, Output: &buf}), "raw output", slog.Int("bytes", 12))
	if !strings.Contains(buf.String(), "raw output") {
		t.Errorf("trace should be emitted at trace level, got: %s", buf.String())
	}
}
