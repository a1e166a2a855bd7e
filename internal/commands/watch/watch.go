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

// Package watch implements the long-running scheduled check command.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/tombee/autoupdater/internal/commands/shared"
	"github.com/tombee/autoupdater/internal/config"
	"github.com/tombee/autoupdater/internal/log"
	"github.com/tombee/autoupdater/internal/updater"
)

type options struct {
	metricsAddr string
	delay       time.Duration
	interval    time.Duration
	once        bool
	runUpdater  bool
}

// NewCommand creates the watch command
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Check for updates on a schedule",
		Long: `Run update checks in the background until interrupted.

The first check runs after the configured delay, then every interval.
With --run-updater the command exits as soon as updates are found and
launches the updater on the way out.

When a config file is in use, edits to its schedule section take effect
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /status on this address (overrides metrics.addr)")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Delay before the first check (overrides schedule.delay)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Interval between checks (overrides schedule.interval)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Run a single scheduled check and exit")
	cmd.Flags().BoolVar(&opts.runUpdater, "run-updater", false, "Exit and launch the updater when updates are found")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	rt, err := shared.NewRuntime(ctx)
	if err != nil {
		return err
	}
	logger := log.WithComponent(rt.Logger, "watch")

	// Flags win over the config file, including after a reload.
	withFlags := func(sched config.ScheduleConfig) config.ScheduleConfig {
		if cmd.Flags().Changed("delay") {
			sched.Delay = opts.delay
		}
		if cmd.Flags().Changed("interval") {
			sched.Interval = opts.interval
		}
		if opts.once {
			sched.Repeat = false
		}
		return sched
	}

	sched := withFlags(rt.Config.Schedule)
	if sched.Repeat && sched.Interval <= 0 {
		_ = rt.Close(context.WithoutCancel(ctx))
		return shared.NewConfigError("invalid schedule", fmt.Errorf("interval must be positive, got %v", sched.Interval))
	}

	addr := rt.Config.Metrics.Addr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	var srv *http.Server
	if addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           newHandler(rt.Updater, newLimiter(sched.ManualMinInterval), logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", log.Error(err))
			}
		}()
		logger.Info("serving metrics", slog.String("addr", addr))
	}

	stop := make(chan struct{})
	var stopped bool
	out := cmd.OutOrStdout()
	unsubscribe := rt.Updater.Subscribe(func(ev updater.Event) {
		done, ok := ev.(updater.CheckDone)
		if !ok {
			return
		}
		state := rt.Updater.State()
		report(out, state)
		finished := !sched.Repeat
		if opts.runUpdater && done.HasUpdates {
			rt.Updater.RunUpdaterOnExit()
			finished = true
		}
		if finished && !stopped {
			stopped = true
			close(stop)
		}
	})
	defer unsubscribe()

	if err := schedule(rt.Updater, sched.Delay, sched.Interval, sched.Repeat); err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return shared.NewConfigError("failed to schedule update checks", err)
	}
	logger.Info("watching for updates",
		slog.Duration("delay", sched.Delay),
		slog.Duration("interval", sched.Interval),
		slog.Bool("repeat", sched.Repeat),
	)

	if path := shared.ResolvedConfigPath(); path != "" && sched.Repeat {
		reload := func() {
			cfg, err := shared.LoadConfig()
			if err != nil {
				logger.Warn("config reload failed, keeping current schedule", log.Error(err))
				return
			}
			next := withFlags(cfg.Schedule)
			if next.Interval <= 0 {
				logger.Warn("ignoring reloaded schedule with non-positive interval", slog.Duration("interval", next.Interval))
				return
			}
			for _, task := range rt.Updater.ScheduledUpdates() {
				rt.Updater.CancelScheduledUpdate(task.ID)
			}
			if err := schedule(rt.Updater, next.Delay, next.Interval, true); err != nil {
				logger.Error("failed to reschedule update checks", log.Error(err))
				return
			}
			logger.Info("schedule reloaded",
				slog.Duration("delay", next.Delay),
				slog.Duration("interval", next.Interval),
			)
		}
		w, err := newConfigWatcher(path, defaultReloadDebounce, reload, logger)
		if err != nil {
			logger.Warn("config reload disabled", log.Error(err))
		} else {
			defer w.Close()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down", slog.String("reason", context.Cause(ctx).Error()))
	case <-stop:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.Config.Check.StopGrace+rt.Config.Check.KillTimeout+5*time.Second)
	defer cancel()

	var result *multierror.Error
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := rt.Close(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return shared.NewCheckFailedError("shutdown incomplete", err)
	}
	return nil
}

// schedule arms the first check after delay, then every interval when
// repeating.
func schedule(u *updater.Updater, delay, interval time.Duration, repeat bool) error {
	if !repeat {
		_, err := u.ScheduleUpdateAt(time.Now().Add(delay))
		return err
	}
	if delay != interval {
		if _, err := u.ScheduleUpdateAt(time.Now().Add(delay)); err != nil {
			return err
		}
	}
	_, err := u.ScheduleUpdate(interval, true)
	return err
}

func report(w io.Writer, state updater.State) {
	if shared.GetJSON() {
		_ = shared.EmitJSON(w, newStatus(state))
		return
	}
	ts := state.LastChecked.Format(time.RFC3339)
	switch state.Outcome {
	case updater.OutcomeUpdates:
		fmt.Fprintln(w, shared.RenderInfo(fmt.Sprintf("%s %d update(s) available", ts, len(state.Updates))))
	case updater.OutcomeNoUpdates:
		fmt.Fprintln(w, shared.RenderOK(ts+" no updates available"))
	default:
		fmt.Fprintln(w, shared.RenderWarn(fmt.Sprintf("%s update check failed (error code %d)", ts, state.ErrorCode)))
	}
}
