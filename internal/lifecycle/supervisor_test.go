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

func awaitResult(t *testing.T, s *Supervisor) Result {
	t.Helper()
	select {
	case res := <-s.Results():
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for process result")
		return Result{}
	}
}

func TestSupervisor_StartInvalidExecutable(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("not a program"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"missing", filepath.Join(dir, "does-not-exist")},
		{"directory", dir},
		{"not executable", plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSupervisor(SupervisorConfig{})
			err := s.Start(tt.path, nil)
			assert.ErrorIs(t, err, ErrInvalidExecutable)
			assert.False(t, s.Active())

			select {
			case res := <-s.Results():
				t.Fatalf("unexpected result: %+v", res)
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestSupervisor_CapturesOutputAndExitCode(t *testing.T) {
	tool := writeScript(t, "tool", `echo "to stdout"
echo "to stderr" >&2
exit 3`)

	s := NewSupervisor(SupervisorConfig{})
	err := s.Start(tool, []string{"--checkupdates"})
	skipOnSpawnError(t, err)
	require.NoError(t, err)

	res := awaitResult(t, s)
	assert.True(t, res.ExitedNormally)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "to stdout\n", string(res.Stdout))
	assert.Equal(t, "to stderr\n", string(res.Stderr))
	assert.False(t, res.Stopped)
	assert.NoError(t, res.Err)
	assert.NotZero(t, res.PID)
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, s.Active())
}

func TestSupervisor_PassesArgumentsAndWorkingDirectory(t *testing.T) {
	tool := writeScript(t, "tool", `pwd
echo "$@"`)

	s := NewSupervisor(SupervisorConfig{})
	err := s.Start(tool, []string{"--checkupdates", "--verbose"})
	skipOnSpawnError(t, err)
	require.NoError(t, err)

	res := awaitResult(t, s)
	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	require.Len(t, lines, 2)

	wantDir, err := filepath.EvalSymlinks(filepath.Dir(tool))
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
	assert.Equal(t, "--checkupdates --verbose", lines[1])
}

func TestSupervisor_RejectsSecondStart(t *testing.T) {
	tool := writeScript(t, "tool", "sleep 5")

	s := NewSupervisor(SupervisorConfig{})
	err := s.Start(tool, nil)
	skipOnSpawnError(t, err)
	require.NoError(t, err)
	assert.True(t, s.Active())

	assert.ErrorIs(t, s.Start(tool, nil), ErrAlreadyActive)

	require.NoError(t, s.Stop(time.Second, false))
	res := awaitResult(t, s)
	assert.True(t, res.Stopped)

	select {
	case extra := <-s.Results():
		t.Fatalf("second start must not produce a result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSupervisor_SequentialInvocations(t *testing.T) {
	tool := writeScript(t, "tool", "echo run")

	s := NewSupervisor(SupervisorConfig{})
	for i := 0; i < 3; i++ {
		err := s.Start(tool, nil)
		skipOnSpawnError(t, err)
		require.NoError(t, err)
		res := awaitResult(t, s)
		assert.Equal(t, "run\n", string(res.Stdout))
	}
}

func TestSupervisor_StopGraceful(t *testing.T) {
	tool := writeScript(t, "tool", `trap 'echo terminated; exit 0' TERM
echo started
while true; do sleep 0.05; done`)

	s := NewSupervisor(SupervisorConfig{})
	err := s.Start(tool, nil)
	skipOnSpawnError(t, err)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.Stop(2*time.Second, false))
	assert.False(t, s.Active())

	res := awaitResult(t, s)
	assert.True(t, res.Stopped)
	assert.False(t, res.ExitedNormally, "exit after a stop request is abnormal")
	assert.Contains(t, string(res.Stdout), "started")
}

func TestSupervisor_StopEscalatesToKill(t *testing.T) {
	tool := writeScript(t, "tool", `trap '' TERM
echo started
while true; do sleep 0.05; done`)

	s := NewSupervisor(SupervisorConfig{KillTimeout: 5 * time.Second})
	err := s.Start(tool, nil)
	skipOnSpawnError(t, err)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(100*time.Millisecond, false))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	res := awaitResult(t, s)
	assert.False(t, res.ExitedNormally)
	assert.Equal(t, -1, res.ExitCode, "killed by signal has no exit code")
	assert.Equal(t, "started\n", string(res.Stdout))
}

func TestSupervisor_StopAsync(t *testing.T) {
	tool := writeScript(t, "tool", "sleep 5")

	s := NewSupervisor(SupervisorConfig{})
	err := s.Start(tool, nil)
	skipOnSpawnError(t, err)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Stop(time.Second, true))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	res := awaitResult(t, s)
	assert.True(t, res.Stopped)
	assert.False(t, res.ExitedNormally)
}

func TestSupervisor_StopNotActive(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{})
	assert.ErrorIs(t, s.Stop(time.Second, false), ErrNotActive)
	assert.ErrorIs(t, s.Stop(time.Second, true), ErrNotActive)
}

func TestSupervisor_OutputLimit(t *testing.T) {
	tool := writeScript(t, "tool", `i=0
while [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done`)

	s := NewSupervisor(SupervisorConfig{MaxOutputSize: 64})
	err := s.Start(tool, nil)
	skipOnSpawnError(t, err)
	require.NoError(t, err)

	res := awaitResult(t, s)
	assert.True(t, res.ExitedNormally)
	assert.Len(t, res.Stdout, 64)
}

func TestResolveExecutable(t *testing.T) {
	tool := writeScript(t, "tool", "true")

	abs, err := ResolveExecutable(tool)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	_, err = ResolveExecutable(filepath.Join(filepath.Dir(tool), "missing"))
	assert.ErrorIs(t, err, ErrInvalidExecutable)
}
