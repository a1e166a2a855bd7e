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

package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Launcher starts the maintenance tool detached from the current process,
// typically to apply updates after the application exits.
type Launcher struct {
	// Env is the environment passed to the child process.
	Env []string

	// LogPath, when set, receives the child's stdout and stderr.
	LogPath string
}

// NewLauncher creates a launcher that inherits the current environment.
func NewLauncher() *Launcher {
	return &Launcher{
		Env: os.Environ(),
	}
}

// WithLogPath redirects the child's output to path.
func (l *Launcher) WithLogPath(path string) *Launcher {
	l.LogPath = path
	return l
}

// Launch starts binary with args in the binary's directory. The process:
// - Runs in its own session (Unix) or detached console (Windows)
// - Has stdin closed, output discarded or redirected to LogPath
// - Is released immediately and never waited on
//
// Returns the PID of the spawned process.
func (l *Launcher) Launch(binary string, args []string) (int, error) {
	abs, err := ResolveExecutable(binary)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(abs, args...)
	cmd.Dir = filepath.Dir(abs)
	cmd.Env = l.Env
	cmd.Stdin = nil

	if l.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(l.LogPath), 0700); err != nil {
			return 0, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile, err := os.OpenFile(l.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return 0, fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid

	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("process started but failed to release: %w", err)
	}

	return pid, nil
}
