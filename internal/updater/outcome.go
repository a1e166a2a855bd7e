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

package updater

import (
	"bytes"

	"github.com/tombee/autoupdater/internal/lifecycle"
	"github.com/tombee/autoupdater/internal/updateinfo"
)

// OutcomeKind classifies a completed check.
type OutcomeKind int

const (
	// OutcomeError covers crashes, stops, malformed output and tool failures.
	OutcomeError OutcomeKind = iota
	// OutcomeUpdates means at least one update is available.
	OutcomeUpdates
	// OutcomeNoUpdates means the tool succeeded and reported nothing.
	OutcomeNoUpdates
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUpdates:
		return "updates"
	case OutcomeNoUpdates:
		return "no_updates"
	default:
		return "error"
	}
}

// Outcome is the classified result of one tool invocation.
type Outcome struct {
	Kind           OutcomeKind
	ExitedNormally bool
	ExitCode       int
	Updates        []updateinfo.Record
	DiagnosticLog  []byte
	// ParseErr is set when the output could not be parsed.
	ParseErr error
}

// HasUpdates reports whether updates were found.
func (o Outcome) HasUpdates() bool { return o.Kind == OutcomeUpdates }

// HasError reports whether the check failed. A check that finds nothing
// counts as failed, matching the tool's own convention.
func (o Outcome) HasError() bool { return o.Kind != OutcomeUpdates }

// Classify folds a process result into an Outcome:
//
//  1. killed, stopped or unwaitable: error with ExitCodeCrashed;
//  2. a non-empty update list: updates with ExitSuccess;
//  3. no list and exit code 0: no updates with ExitFailure;
//  4. anything else: error with the tool's exit code.
func Classify(res lifecycle.Result) Outcome {
	if !res.ExitedNormally || res.Err != nil {
		return Outcome{
			Kind:           OutcomeError,
			ExitedNormally: false,
			ExitCode:       ExitCodeCrashed,
			DiagnosticLog:  joinOutput(res.Stderr, res.Stdout),
		}
	}

	records, err := updateinfo.Parse(res.Stdout)
	switch {
	case err == nil && len(records) > 0:
		return Outcome{
			Kind:           OutcomeUpdates,
			ExitedNormally: true,
			ExitCode:       ExitSuccess,
			Updates:        records,
			DiagnosticLog:  bytes.Clone(res.Stderr),
		}
	case (err == nil || updateinfo.IsNoMarker(err)) && res.ExitCode == 0:
		return Outcome{
			Kind:           OutcomeNoUpdates,
			ExitedNormally: true,
			ExitCode:       ExitFailure,
			DiagnosticLog:  bytes.Clone(res.Stderr),
		}
	default:
		return Outcome{
			Kind:           OutcomeError,
			ExitedNormally: true,
			ExitCode:       res.ExitCode,
			DiagnosticLog:  joinOutput(res.Stderr, res.Stdout),
			ParseErr:       err,
		}
	}
}

// joinOutput returns stderr followed by stdout.
func joinOutput(stderr, stdout []byte) []byte {
	out := make([]byte, 0, len(stderr)+len(stdout))
	out = append(out, stderr...)
	return append(out, stdout...)
}
