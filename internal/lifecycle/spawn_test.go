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

//go:build !windows

package lifecycle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLauncher_Launch(t *testing.T) {
	if os.Getenv("SKIP_SPAWN_TESTS") != "" {
		t.Skip("Skipping spawn tests (SKIP_SPAWN_TESTS is set)")
	}

	t.Run("runs tool with arguments in its directory", func(t *testing.T) {
		tool := writeScript(t, "maintenancetool", `echo "$@" > launched.txt`)
		marker := filepath.Join(filepath.Dir(tool), "launched.txt")

		pid, err := NewLauncher().Launch(tool, []string{"--updater"})
		skipOnSpawnError(t, err)
		require.NoError(t, err)
		assert.NotZero(t, pid)

		require.Eventually(t, func() bool {
			data, err := os.ReadFile(marker)
			return err == nil && strings.TrimSpace(string(data)) == "--updater"
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("redirects output to log path", func(t *testing.T) {
		tool := writeScript(t, "maintenancetool", "echo 'launch output'")
		logPath := filepath.Join(t.TempDir(), "nested", "updater.log")

		_, err := NewLauncher().WithLogPath(logPath).Launch(tool, nil)
		skipOnSpawnError(t, err)
		require.NoError(t, err)

		info, err := os.Stat(filepath.Dir(logPath))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode()&os.ModePerm)

		require.Eventually(t, func() bool {
			data, err := os.ReadFile(logPath)
			return err == nil && strings.Contains(string(data), "launch output")
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("rejects invalid executable", func(t *testing.T) {
		_, err := NewLauncher().Launch(filepath.Join(t.TempDir(), "missing"), nil)
		assert.ErrorIs(t, err, ErrInvalidExecutable)
	})
}
