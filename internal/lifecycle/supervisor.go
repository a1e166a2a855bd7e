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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/autoupdater/internal/log"
	updatererrors "github.com/tombee/autoupdater/pkg/errors"
)

var (
	// ErrAlreadyActive is returned by Start while an invocation is running.
	ErrAlreadyActive = errors.New("a maintenance tool process is already active")

	// ErrInvalidExecutable is returned by Start when the path is not an
	// executable file.
	ErrInvalidExecutable = errors.New("invalid executable")

	// ErrNotActive is returned by Stop when no process is running.
	ErrNotActive = errors.New("no maintenance tool process is active")
)

const (
	// MaxOutputSize caps each captured stream.
	MaxOutputSize = 16 << 20

	// DefaultKillTimeout bounds a synchronous stop after the grace period.
	DefaultKillTimeout = 5 * time.Second

	// DefaultWaitDelay bounds waiting for output pipes after the process exits.
	DefaultWaitDelay = 2 * time.Second
)

// Result describes one finished invocation.
type Result struct {
	// ExitedNormally is false when the process was killed by a signal, a stop
	// was requested, or waiting on it failed.
	ExitedNormally bool
	// ExitCode is the process's own exit code, -1 if it has none.
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	// Stopped reports that Stop was called for this invocation.
	Stopped bool
	// Err is a wait or I/O failure, nil for any completed exit.
	Err       error
	PID       int
	StartedAt time.Time
	Duration  time.Duration
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// KillTimeout bounds a synchronous Stop after the grace period.
	// Default: 5s
	KillTimeout time.Duration

	// WaitDelay bounds how long output pipes are drained after exit.
	// Default: 2s
	WaitDelay time.Duration

	// MaxOutputSize caps each captured stream. Default: 16 MiB
	MaxOutputSize int

	// Env is the process environment. Default: os.Environ()
	Env []string

	Logger *slog.Logger
}

// Supervisor runs the maintenance tool one invocation at a time.
type Supervisor struct {
	mu      sync.Mutex
	active  *invocation
	results chan Result

	killTimeout time.Duration
	waitDelay   time.Duration
	maxOutput   int
	env         []string
	logger      *slog.Logger
}

// invocation is owned by a single Start call and never reused.
type invocation struct {
	cmd       *exec.Cmd
	stdout    *limitedBuffer
	stderr    *limitedBuffer
	startedAt time.Time
	done      chan struct{}
	stopped   bool
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		results:     make(chan Result, 4),
		killTimeout: cfg.KillTimeout,
		waitDelay:   cfg.WaitDelay,
		maxOutput:   cfg.MaxOutputSize,
		env:         cfg.Env,
		logger:      log.WithComponent(cfg.Logger, "supervisor"),
	}
	if s.killTimeout <= 0 {
		s.killTimeout = DefaultKillTimeout
	}
	if s.waitDelay <= 0 {
		s.waitDelay = DefaultWaitDelay
	}
	if s.maxOutput <= 0 {
		s.maxOutput = MaxOutputSize
	}
	if s.env == nil {
		s.env = os.Environ()
	}
	return s
}

// Results delivers exactly one Result per accepted Start.
func (s *Supervisor) Results() <-chan Result {
	return s.results
}

// Active reports whether a process is running.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// ResolveExecutable returns the absolute path of an executable file.
func ResolveExecutable(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidExecutable)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidExecutable, path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidExecutable, abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s: not a regular file", ErrInvalidExecutable, abs)
	}
	if !isExecutable(info) {
		return "", fmt.Errorf("%w: %s: not executable", ErrInvalidExecutable, abs)
	}
	return abs, nil
}

// Start launches the tool asynchronously in its own directory.
func (s *Supervisor) Start(path string, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return ErrAlreadyActive
	}

	abs, err := ResolveExecutable(path)
	if err != nil {
		return err
	}

	inv := &invocation{
		stdout: newLimitedBuffer(s.maxOutput),
		stderr: newLimitedBuffer(s.maxOutput),
		done:   make(chan struct{}),
	}

	cmd := exec.Command(abs, args...)
	cmd.Dir = filepath.Dir(abs)
	cmd.Env = s.env
	cmd.Stdout = inv.stdout
	cmd.Stderr = inv.stderr
	cmd.WaitDelay = s.waitDelay
	setProcessGroup(cmd)
	inv.cmd = cmd

	if err := cmd.Start(); err != nil {
		processStarts.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrInvalidExecutable, abs, err)
	}
	inv.startedAt = time.Now()
	s.active = inv
	processStarts.WithLabelValues("started").Inc()

	s.logger.Debug("process started",
		slog.String(log.ToolKey, abs),
		slog.Int("pid", cmd.Process.Pid),
		slog.Any("args", args),
	)

	go s.wait(inv)
	return nil
}

// wait reaps the process and publishes its Result.
func (s *Supervisor) wait(inv *invocation) {
	err := inv.cmd.Wait()
	duration := time.Since(inv.startedAt)

	s.mu.Lock()
	stopped := inv.stopped
	s.active = nil
	s.mu.Unlock()
	close(inv.done)

	res := Result{
		ExitCode:  -1,
		Stdout:    inv.stdout.Bytes(),
		Stderr:    inv.stderr.Bytes(),
		Stopped:   stopped,
		PID:       inv.cmd.Process.Pid,
		StartedAt: inv.startedAt,
		Duration:  duration,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr), errors.Is(err, exec.ErrWaitDelay):
	default:
		res.Err = err
	}

	if state := inv.cmd.ProcessState; state != nil {
		res.ExitCode = state.ExitCode()
		res.ExitedNormally = state.Exited() && !stopped && res.Err == nil
	}

	if inv.stdout.Truncated() || inv.stderr.Truncated() {
		s.logger.Warn("process output truncated", slog.Int("limit", s.maxOutput))
	}

	s.logger.Debug("process exited",
		slog.Int("pid", res.PID),
		slog.Int(log.ExitCodeKey, res.ExitCode),
		slog.Bool("exited_normally", res.ExitedNormally),
		slog.Bool("stopped", stopped),
		slog.Int64(log.DurationKey, duration.Milliseconds()),
	)

	s.results <- res
}

// Stop terminates the active process: a graceful signal first, then a
// process-tree kill once grace has elapsed. With async false it blocks until
// the process has exited, bounded by grace plus the kill timeout.
func (s *Supervisor) Stop(grace time.Duration, async bool) error {
	s.mu.Lock()
	inv := s.active
	if inv == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	inv.stopped = true
	s.mu.Unlock()

	mode := "sync"
	if async {
		mode = "async"
	}
	processStops.WithLabelValues(mode).Inc()

	pid := inv.cmd.Process.Pid
	logger := s.logger.With(slog.Int("pid", pid))
	logger.Debug("stopping process", slog.Duration("grace", grace), slog.Bool("async", async))

	if err := terminate(pid); err != nil {
		logger.Debug("graceful terminate failed", log.Error(err))
	}

	go func() {
		timer := time.NewTimer(max(grace, 0))
		defer timer.Stop()
		select {
		case <-inv.done:
		case <-timer.C:
			logger.Warn("process did not exit within grace period, killing")
			processKills.Inc()
			if err := forceKill(pid); err != nil {
				logger.Debug("force kill failed", log.Error(err))
			}
		}
	}()

	if async {
		return nil
	}

	bound := max(grace, 0) + s.killTimeout
	timer := time.NewTimer(bound)
	defer timer.Stop()
	select {
	case <-inv.done:
		return nil
	case <-timer.C:
		return &updatererrors.TimeoutError{
			Operation: "process stop",
			Duration:  bound,
			Cause:     fmt.Errorf("pid %d still running", pid),
		}
	}
}
