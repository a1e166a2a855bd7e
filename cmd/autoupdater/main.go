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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/autoupdater/internal/cli"
	"github.com/tombee/autoupdater/internal/commands/check"
	"github.com/tombee/autoupdater/internal/commands/update"
	versioncmd "github.com/tombee/autoupdater/internal/commands/version"
	"github.com/tombee/autoupdater/internal/commands/watch"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	rootCmd.AddCommand(check.NewCommand())
	rootCmd.AddCommand(watch.NewCommand())
	rootCmd.AddCommand(update.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	// Interrupts stop a running check and shut down cleanly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		cli.HandleExitError(err)
	}
}
