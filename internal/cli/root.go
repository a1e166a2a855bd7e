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

package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/autoupdater/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for autoupdater
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoupdater",
		Short: "autoupdater - check for and install application updates",
		Long: `autoupdater drives an installer's maintenance tool to find out whether
updates are available, reports what it found, and can launch the tool's
updater once the application exits.

Run 'autoupdater check' for a one-off check or 'autoupdater watch' to check
on a schedule.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, config, tool := shared.RegisterFlagPointers()

	// Add global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	flags.BoolVar(json, "json", false, "Output in JSON format")
	flags.StringVar(config, "config", "", "Path to config file (default: ~/.config/autoupdater/config.yaml)")
	flags.StringVar(tool, "tool", "", "Path to the maintenance tool (overrides tool.path)")
	flags.SetNormalizeFunc(normalizeFlagName)

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	return cmd
}

// normalizeFlagName accepts snake_case spellings of kebab-case flags, so
// --metrics_addr matches --metrics-addr.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
