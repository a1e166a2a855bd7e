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

// Package check implements the one-shot update check command.
package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/autoupdater/internal/commands/shared"
	"github.com/tombee/autoupdater/internal/lifecycle"
	"github.com/tombee/autoupdater/internal/updateinfo"
	"github.com/tombee/autoupdater/internal/updater"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 10 * time.Minute

type options struct {
	timeout    time.Duration
	runUpdater bool
}

// Report is the result of a check as printed by the command.
type Report struct {
	shared.JSONResponse
	CheckID        string         `json:"check_id"`
	Outcome        string         `json:"outcome"`
	ExitedNormally bool           `json:"exited_normally"`
	ErrorCode      int            `json:"error_code"`
	Updates        []UpdateRecord `json:"updates"`
	TotalSize      uint64         `json:"total_size"`
	ErrorLog       string         `json:"error_log,omitempty"`
	RunUpdater     bool           `json:"run_updater_on_exit"`
}

// UpdateRecord is one available update in a Report.
type UpdateRecord struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Size    uint64 `json:"size"`
}

// NewCommand creates the check command
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check once for available updates",
		Long: `Run the maintenance tool once in check mode and report the updates it
found. The command exits 0 when the check completed, whether or not updates
are available, and non-zero when the tool failed or could not be started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", DefaultTimeout, "Stop the check if it runs longer than this")
	cmd.Flags().BoolVar(&opts.runUpdater, "run-updater", false, "Launch the updater when updates are found")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	rt, err := shared.NewRuntime(ctx)
	if err != nil {
		return err
	}

	done := make(chan updater.CheckDone, 1)
	unsubscribe := rt.Updater.Subscribe(func(ev updater.Event) {
		if d, ok := ev.(updater.CheckDone); ok {
			select {
			case done <- d:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := rt.Updater.Check(ctx); err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		if errors.Is(err, lifecycle.ErrInvalidExecutable) {
			return shared.NewToolNotFoundError("maintenance tool is not usable", err)
		}
		return shared.NewCheckFailedError("failed to start update check", err)
	}

	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		rt.Updater.StopUpdateCheck(rt.Config.Check.StopGrace, false)
		_ = rt.Close(context.WithoutCancel(ctx))
		return shared.NewTimeoutError(fmt.Sprintf("update check did not finish within %v", opts.timeout), context.DeadlineExceeded)
	case <-ctx.Done():
		rt.Updater.StopUpdateCheck(rt.Config.Check.StopGrace, false)
		_ = rt.Close(context.WithoutCancel(ctx))
		return shared.NewCheckFailedError("update check interrupted", ctx.Err())
	}

	state := rt.Updater.State()
	if opts.runUpdater && state.Outcome == updater.OutcomeUpdates {
		rt.Updater.RunUpdaterOnExit()
	}
	report := newReport(state, rt.Updater.WillRunOnExit())

	if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
		rt.Logger.Warn("shutdown incomplete", "error", err)
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}

	if state.Outcome == updater.OutcomeError {
		return shared.NewCheckFailedError("update check failed", fmt.Errorf("maintenance tool error code %d", state.ErrorCode))
	}
	return nil
}

func newReport(state updater.State, runUpdater bool) Report {
	v, _, _ := shared.GetVersion()
	report := Report{
		JSONResponse: shared.JSONResponse{
			Version: v,
			Command: "check",
			Success: state.Outcome != updater.OutcomeError,
		},
		CheckID:        state.CheckID,
		Outcome:        state.Outcome.String(),
		ExitedNormally: state.ExitedNormally,
		ErrorCode:      state.ErrorCode,
		Updates:        make([]UpdateRecord, 0, len(state.Updates)),
		RunUpdater:     runUpdater,
	}
	if state.Outcome == updater.OutcomeError {
		report.ErrorLog = string(state.ErrorLog)
	}

	report.TotalSize = updateinfo.TotalSize(state.Updates)
	for _, r := range updateinfo.SortByVersion(state.Updates) {
		report.Updates = append(report.Updates, UpdateRecord{
			Name:    r.Name,
			Version: r.Version.String(),
			Size:    r.Size,
		})
	}
	return report
}

func printReport(w io.Writer, r Report) {
	switch r.Outcome {
	case updater.OutcomeUpdates.String():
		fmt.Fprintln(w, shared.Header.Render(fmt.Sprintf("%d update(s) available", len(r.Updates))))
		for _, u := range r.Updates {
			fmt.Fprintf(w, "  %s %s %s\n", shared.Bold.Render(u.Name), u.Version, shared.RenderLabel("("+shared.FormatSize(u.Size)+")"))
		}
		fmt.Fprintln(w, shared.RenderLabel("Total download: "+shared.FormatSize(r.TotalSize)))
		if r.RunUpdater {
			fmt.Fprintln(w, shared.RenderInfo("The updater will start when this command exits"))
		}
	case updater.OutcomeNoUpdates.String():
		fmt.Fprintln(w, shared.RenderOK("No updates available"))
	default:
		msg := fmt.Sprintf("Update check failed (error code %d)", r.ErrorCode)
		if !r.ExitedNormally {
			msg = "Maintenance tool did not exit normally"
		}
		fmt.Fprintln(w, shared.RenderWarn(msg))
		if r.ErrorLog != "" {
			fmt.Fprintln(w, shared.RenderLabel(r.ErrorLog))
		}
	}
}
