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

// Package updater orchestrates update checks: it runs the maintenance tool,
// classifies its result, publishes state and emits events.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/autoupdater/internal/lifecycle"
	"github.com/tombee/autoupdater/internal/log"
	"github.com/tombee/autoupdater/internal/scheduler"
	"github.com/tombee/autoupdater/internal/updateinfo"
	updatererrors "github.com/tombee/autoupdater/pkg/errors"
)

const tracerName = "github.com/tombee/autoupdater/internal/updater"

var (
	// ErrAlreadyRunning is returned by Check while a check is in flight.
	ErrAlreadyRunning = errors.New("an update check is already running")

	// ErrNotStarted is returned by Check before Start.
	ErrNotStarted = errors.New("updater not started")

	// ErrClosed is returned by Check once Close has begun.
	ErrClosed = errors.New("updater closed")
)

const (
	// DefaultCheckArg asks the tool to report available updates.
	DefaultCheckArg = "--checkupdates"

	// DefaultRunArg starts the tool's interactive updater.
	DefaultRunArg = "--updater"

	// DefaultStopGrace is how long Close lets an in-flight check terminate.
	DefaultStopGrace = 5 * time.Second
)

// Config configures an Updater.
type Config struct {
	// ToolPath is the resolved maintenance tool path. Required.
	ToolPath string

	// CheckArgs are passed for a check. Default: --checkupdates
	CheckArgs []string

	// RunArgs are passed when launching the updater on exit. Default: --updater
	RunArgs []string

	// StopGrace bounds stopping an in-flight check on Close. Default: 5s
	StopGrace time.Duration

	// RunOnExit arms the updater launch from the start.
	RunOnExit bool
}

// Updater is the update check state machine. All transitions happen on one
// control goroutine; readers see immutable State snapshots.
type Updater struct {
	cfg           Config
	sup           Supervisor
	sched         *scheduler.Scheduler
	ownsScheduler bool
	launcher      Launcher
	events        *lifecycle.EventLog
	logger        *slog.Logger
	tracer        trace.Tracer
	bus           *eventBus

	state atomic.Pointer[State]

	checkReqs chan checkRequest
	stopReqs  chan stopRequest
	closeCh   chan struct{}
	loopDone  chan struct{}

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	tasks     map[scheduler.TaskID]struct{}
	runOnExit bool
	runArgs   []string

	// current is owned by the control goroutine.
	current *checkRun
}

type checkRun struct {
	id        string
	logger    *slog.Logger
	span      trace.Span
	startedAt time.Time
	done      chan struct{}
}

type checkRequest struct {
	ctx   context.Context
	reply chan error
}

type stopRequest struct {
	reply chan *checkRun
}

// New creates an Updater. Call Start before requesting checks.
func New(cfg Config, opts ...Option) (*Updater, error) {
	if cfg.ToolPath == "" {
		return nil, &updatererrors.ValidationError{
			Field:      "tool_path",
			Message:    "maintenance tool path is required",
			Suggestion: "set tool.path or place the tool next to the application",
		}
	}
	if cfg.CheckArgs == nil {
		cfg.CheckArgs = []string{DefaultCheckArg}
	}
	if cfg.RunArgs == nil {
		cfg.RunArgs = []string{DefaultRunArg}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}

	u := &Updater{
		cfg:           cfg,
		ownsScheduler: true,
		checkReqs:     make(chan checkRequest),
		stopReqs:      make(chan stopRequest),
		closeCh:       make(chan struct{}),
		loopDone:      make(chan struct{}),
		tasks:         make(map[scheduler.TaskID]struct{}),
		runOnExit:     cfg.RunOnExit,
		runArgs:       cfg.RunArgs,
	}
	for _, opt := range opts {
		opt(u)
	}

	u.logger = log.WithComponent(u.logger, "updater").With(slog.String(log.ToolKey, cfg.ToolPath))
	if u.sup == nil {
		u.sup = lifecycle.NewSupervisor(lifecycle.SupervisorConfig{Logger: u.logger})
	}
	if u.sched == nil {
		u.sched = scheduler.New(scheduler.WithLogger(u.logger))
	}
	if u.launcher == nil {
		u.launcher = lifecycle.NewLauncher()
	}
	if u.tracer == nil {
		u.tracer = otel.Tracer(tracerName)
	}

	u.state.Store(initialState())
	u.bus = newEventBus(u.logger)
	return u, nil
}

// Start runs the control loop and the scheduler. It is a no-op when already
// started or closed.
func (u *Updater) Start(ctx context.Context) {
	if u.closing.Load() || !u.started.CompareAndSwap(false, true) {
		return
	}
	go u.run()
	u.sched.Start(ctx)
	u.logger.Debug("updater started")
}

// Check starts an update check. It returns once the request was accepted or
// rejected; the outcome arrives as events.
func (u *Updater) Check(ctx context.Context) error {
	if !u.started.Load() {
		recordRejected("not_started")
		return ErrNotStarted
	}

	req := checkRequest{ctx: ctx, reply: make(chan error, 1)}
	select {
	case u.checkReqs <- req:
	case <-u.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// CheckForUpdates is Check without a context, reporting acceptance.
func (u *Updater) CheckForUpdates() bool {
	return u.Check(context.Background()) == nil
}

// StopUpdateCheck asks an in-flight check to stop. The check completes
// through the normal path as an error outcome. With async false it waits
// until that completion has been published. Returns false when idle or when
// the tool could not be stopped in time. A failed stop leaves the phase at
// PhaseStopping; the supervisor keeps escalating and the check still ends
// through a CheckDone, so callers waiting on the outcome should subscribe
// rather than poll the phase.
func (u *Updater) StopUpdateCheck(grace time.Duration, async bool) bool {
	if !u.started.Load() {
		return false
	}

	req := stopRequest{reply: make(chan *checkRun, 1)}
	select {
	case u.stopReqs <- req:
	case <-u.loopDone:
		return false
	}
	run := <-req.reply
	if run == nil {
		return false
	}

	u.audit(u.events.LogStop(run.id, grace, async))
	run.logger.Info("stopping update check", slog.Duration("grace", grace), slog.Bool("async", async))

	if err := u.sup.Stop(grace, async); err != nil && !errors.Is(err, lifecycle.ErrNotActive) {
		run.logger.Error("failed to stop update check", log.Error(err))
		u.audit(u.events.LogStopFailure(run.id, err))
		return false
	}

	if !async {
		select {
		case <-run.done:
		case <-u.loopDone:
		}
	}
	return true
}

// ScheduleUpdate checks for updates after delay, and every delay after that
// when repeat is set.
func (u *Updater) ScheduleUpdate(delay time.Duration, repeat bool) (scheduler.TaskID, error) {
	return u.schedule(func(fn scheduler.Func) (scheduler.TaskID, error) {
		return u.sched.ScheduleAfter(delay, fn, nil, repeat)
	}, !repeat)
}

// ScheduleUpdateAt checks for updates once at when.
func (u *Updater) ScheduleUpdateAt(when time.Time) (scheduler.TaskID, error) {
	return u.schedule(func(fn scheduler.Func) (scheduler.TaskID, error) {
		return u.sched.ScheduleAt(when, fn, nil)
	}, true)
}

func (u *Updater) schedule(add func(scheduler.Func) (scheduler.TaskID, error), oneShot bool) (scheduler.TaskID, error) {
	if u.closing.Load() {
		return 0, ErrClosed
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	var id scheduler.TaskID
	fn := func(ctx context.Context, _ any) {
		u.mu.Lock()
		taskID := id
		if oneShot {
			delete(u.tasks, taskID)
		}
		u.mu.Unlock()
		u.runScheduledCheck(ctx, taskID)
	}

	id, err := add(fn)
	if err != nil {
		return 0, err
	}
	u.tasks[id] = struct{}{}
	u.logger.Info("update check scheduled", slog.Int64(log.TaskIDKey, int64(id)))
	return id, nil
}

func (u *Updater) runScheduledCheck(ctx context.Context, id scheduler.TaskID) {
	logger := u.logger.With(slog.Int64(log.TaskIDKey, int64(id)))
	switch err := u.Check(ctx); {
	case err == nil:
		logger.Debug("scheduled update check started")
	case errors.Is(err, ErrAlreadyRunning):
		logger.Debug("scheduled update check skipped, check already running")
	default:
		logger.Warn("scheduled update check not started", log.Error(err))
	}
}

// CancelScheduledUpdate cancels a task created by ScheduleUpdate or
// ScheduleUpdateAt. Unknown or fired IDs are ignored.
func (u *Updater) CancelScheduledUpdate(id scheduler.TaskID) {
	u.mu.Lock()
	_, ours := u.tasks[id]
	delete(u.tasks, id)
	u.mu.Unlock()

	if ours {
		u.sched.Cancel(id)
	}
}

// ScheduledUpdates returns the live tasks created by this updater.
func (u *Updater) ScheduledUpdates() []scheduler.TaskStatus {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []scheduler.TaskStatus
	for _, st := range u.sched.Status() {
		if _, ok := u.tasks[st.ID]; ok {
			out = append(out, st)
		}
	}
	return out
}

// RunUpdaterOnExit launches the tool detached when the updater is closed.
// With no args the configured run arguments are used.
func (u *Updater) RunUpdaterOnExit(args ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.runOnExit = true
	if len(args) > 0 {
		u.runArgs = append([]string(nil), args...)
	} else {
		u.runArgs = u.cfg.RunArgs
	}
}

// CancelRunOnExit disarms RunUpdaterOnExit.
func (u *Updater) CancelRunOnExit() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.runOnExit = false
}

// WillRunOnExit reports whether the updater will be launched on Close.
func (u *Updater) WillRunOnExit() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.runOnExit
}

// Subscribe registers fn for every event. Handlers run one at a time on the
// dispatcher goroutine and may call back into the Updater, except Close.
func (u *Updater) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return u.bus.subscribe(fn)
}

// State returns the current snapshot.
func (u *Updater) State() State { return *u.state.Load() }

// IsRunning reports whether a check is in flight.
func (u *Updater) IsRunning() bool { return u.state.Load().Running }

// ExitedNormally reports whether the last check's tool exited on its own.
func (u *Updater) ExitedNormally() bool { return u.state.Load().ExitedNormally }

// ErrorCode returns the last check's classified exit code.
func (u *Updater) ErrorCode() int { return u.state.Load().ErrorCode }

// ErrorLog returns the last check's diagnostic output.
func (u *Updater) ErrorLog() []byte {
	return append([]byte(nil), u.state.Load().ErrorLog...)
}

// Updates returns the updates found by the last check.
func (u *Updater) Updates() []updateinfo.Record {
	return updateinfo.Clone(u.state.Load().Updates)
}

// ToolPath returns the maintenance tool path.
func (u *Updater) ToolPath() string { return u.cfg.ToolPath }

// Close cancels this updater's scheduled checks, stops an in-flight check,
// launches the updater if armed and delivers pending events.
func (u *Updater) Close(ctx context.Context) error {
	u.closeOnce.Do(func() {
		u.closeErr = u.close(ctx)
	})
	return u.closeErr
}

func (u *Updater) close(ctx context.Context) error {
	var result *multierror.Error
	u.closing.Store(true)

	u.mu.Lock()
	for id := range u.tasks {
		u.sched.Cancel(id)
	}
	clear(u.tasks)
	u.mu.Unlock()
	if u.ownsScheduler {
		u.sched.Stop()
	}

	if u.started.Load() {
		if u.IsRunning() && !u.StopUpdateCheck(u.cfg.StopGrace, false) && u.IsRunning() {
			result = multierror.Append(result, errors.New("in-flight update check did not stop"))
		}
		close(u.closeCh)
		select {
		case <-u.loopDone:
		case <-ctx.Done():
			result = multierror.Append(result, ctx.Err())
		}
	}

	if err := u.launchOnExit(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := u.bus.flush(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("flush events: %w", err))
	} else {
		u.bus.close()
	}

	u.logger.Debug("updater closed")
	return result.ErrorOrNil()
}

func (u *Updater) launchOnExit() error {
	u.mu.Lock()
	armed, args := u.runOnExit, u.runArgs
	u.mu.Unlock()
	if !armed {
		return nil
	}

	pid, err := u.launcher.Launch(u.cfg.ToolPath, args)
	if err != nil {
		u.logger.Error("failed to launch updater", log.Error(err))
		u.audit(u.events.LogUpdaterLaunchFailure(u.cfg.ToolPath, err))
		return fmt.Errorf("launch updater: %w", err)
	}
	u.logger.Info("updater launched", slog.Int("pid", pid), slog.Any("args", args))
	u.audit(u.events.LogUpdaterLaunch(u.cfg.ToolPath, args, pid))
	return nil
}

func (u *Updater) audit(err error) {
	if err != nil {
		u.logger.Debug("failed to write event log", log.Error(err))
	}
}

// run is the control loop. It is the only writer of state.
func (u *Updater) run() {
	defer close(u.loopDone)

	results := u.sup.Results()
	for {
		select {
		case req := <-u.checkReqs:
			req.reply <- u.handleCheck(req.ctx)
		case req := <-u.stopReqs:
			req.reply <- u.handleStop()
		case res := <-results:
			u.handleResult(res)
		case <-u.closeCh:
			if run := u.current; run != nil {
				run.span.SetStatus(codes.Error, "abandoned on close")
				run.span.End()
				close(run.done)
				u.current = nil
			}
			return
		}
	}
}

func (u *Updater) handleCheck(ctx context.Context) error {
	if u.closing.Load() {
		recordRejected("closed")
		return ErrClosed
	}

	prev := u.state.Load()
	if prev.Running {
		recordRejected("running")
		u.logger.Debug("update check rejected, already running", slog.String(log.CheckIDKey, prev.CheckID))
		return ErrAlreadyRunning
	}

	if err := u.sup.Start(u.cfg.ToolPath, u.cfg.CheckArgs); err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyActive) {
			recordRejected("running")
			return ErrAlreadyRunning
		}
		recordRejected("invalid_executable")
		u.logger.Warn("update check rejected", log.Error(err))
		u.audit(u.events.LogCheckRejected(u.cfg.ToolPath, err))
		return err
	}

	id := uuid.NewString()
	_, span := u.tracer.Start(ctx, "updater.check",
		trace.WithAttributes(
			attribute.String("check.id", id),
			attribute.String("tool.path", u.cfg.ToolPath),
		),
	)
	run := &checkRun{
		id:        id,
		logger:    log.WithCheck(u.logger, id, u.cfg.ToolPath),
		span:      span,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	u.current = run

	next := *prev
	next.Phase = PhaseChecking
	next.Running = true
	next.Updates = nil
	next.CheckID = id
	u.state.Store(&next)
	checkRunning.Set(1)

	run.logger.Info("update check started", slog.Any("args", u.cfg.CheckArgs))
	u.audit(u.events.LogCheckStart(id, u.cfg.ToolPath, u.cfg.CheckArgs))

	u.bus.emit(RunningChanged{CheckID: id, Running: true})
	u.bus.emit(UpdatesChanged{CheckID: id})
	return nil
}

func (u *Updater) handleStop() *checkRun {
	prev := u.state.Load()
	if !prev.Running || u.current == nil {
		return nil
	}
	if prev.Phase != PhaseStopping {
		next := *prev
		next.Phase = PhaseStopping
		u.state.Store(&next)
	}
	return u.current
}

func (u *Updater) handleResult(res lifecycle.Result) {
	run := u.current
	if run == nil {
		u.logger.Warn("process result without an active check", slog.Int("pid", res.PID))
		return
	}
	u.current = nil

	outcome := Classify(res)
	u.state.Store(&State{
		Phase:          PhaseIdle,
		Running:        false,
		ExitedNormally: outcome.ExitedNormally,
		ErrorCode:      outcome.ExitCode,
		ErrorLog:       outcome.DiagnosticLog,
		Outcome:        outcome.Kind,
		Updates:        outcome.Updates,
		CheckID:        run.id,
		LastChecked:    time.Now(),
	})

	duration := time.Since(run.startedAt)
	recordCheckDone(outcome.Kind, duration)
	u.finishSpan(run.span, res, outcome)

	attrs := []any{
		slog.String("outcome", outcome.Kind.String()),
		slog.Int(log.ExitCodeKey, outcome.ExitCode),
		slog.Int("tool_exit_code", res.ExitCode),
		slog.Bool("exited_normally", outcome.ExitedNormally),
		slog.Int("updates", len(outcome.Updates)),
		slog.Int64(log.DurationKey, duration.Milliseconds()),
	}
	if outcome.ParseErr != nil {
		attrs = append(attrs, slog.String("parse_error", outcome.ParseErr.Error()))
	}
	if res.Err != nil {
		attrs = append(attrs, log.Error(res.Err))
	}
	if outcome.Kind == OutcomeError {
		run.logger.Warn("update check failed", attrs...)
	} else {
		run.logger.Info("update check finished", attrs...)
	}
	log.Trace(run.logger, "maintenance tool output",
		slog.String("stdout", string(res.Stdout)),
		slog.String("stderr", string(res.Stderr)),
	)
	u.audit(u.events.LogCheckDone(run.id, outcome.Kind.String(), outcome.ExitCode, outcome.ExitedNormally, duration))

	u.bus.emit(RunningChanged{CheckID: run.id, Running: false})
	u.bus.emit(CheckDone{CheckID: run.id, HasUpdates: outcome.HasUpdates(), HasError: outcome.HasError()})
	if outcome.HasUpdates() {
		u.bus.emit(UpdatesChanged{CheckID: run.id, Updates: updateinfo.Clone(outcome.Updates)})
	}
	close(run.done)
}

func (u *Updater) finishSpan(span trace.Span, res lifecycle.Result, outcome Outcome) {
	span.SetAttributes(
		attribute.String("check.outcome", outcome.Kind.String()),
		attribute.Int("check.exit_code", outcome.ExitCode),
		attribute.Int("process.exit_code", res.ExitCode),
		attribute.Bool("process.stopped", res.Stopped),
		attribute.Int("check.updates", len(outcome.Updates)),
	)
	if outcome.Kind == OutcomeError {
		span.SetStatus(codes.Error, "update check failed")
		if outcome.ParseErr != nil {
			span.RecordError(outcome.ParseErr)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
