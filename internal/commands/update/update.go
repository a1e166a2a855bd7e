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

// Package update implements the command that starts the interactive updater.
package update

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tombee/autoupdater/internal/commands/shared"
	"github.com/tombee/autoupdater/internal/lifecycle"
)

// NewCommand creates the update command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update [-- tool-args...]",
		Short: "Launch the maintenance tool's updater",
		Long: `Start the maintenance tool in updater mode, detached from this process.

Arguments after -- replace the configured tool.run_args.`,
		RunE: runUpdate,
	}
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := shared.NewRuntime(ctx)
	if err != nil {
		return err
	}
	rt.Updater.RunUpdaterOnExit(args...)

	if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidExecutable) {
			return shared.NewToolNotFoundError("maintenance tool is not usable", err)
		}
		return shared.NewCheckFailedError("failed to launch updater", err)
	}

	if !shared.GetQuiet() {
		cmd.Println(shared.RenderOK("Updater started: " + rt.Config.Tool.Path))
	}
	return nil
}
