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
	"time"

	"github.com/tombee/autoupdater/internal/updateinfo"
)

// Phase is the orchestrator's position in a check.
type Phase int

const (
	// PhaseIdle means no check is in flight.
	PhaseIdle Phase = iota
	// PhaseChecking means the maintenance tool is running.
	PhaseChecking
	// PhaseStopping means a stop was requested and the tool has not exited yet.
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Exit codes published in State.ErrorCode.
const (
	// ExitSuccess is reported when updates were found.
	ExitSuccess = 0
	// ExitFailure is reported when the tool found no updates.
	ExitFailure = 1
	// ExitCodeCrashed is reported when the tool did not exit on its own.
	// The tool itself cannot produce a negative code.
	ExitCodeCrashed = -1
)

// State is an immutable snapshot of the orchestrator. The slices are shared
// between readers and must not be modified.
type State struct {
	Phase   Phase
	Running bool

	// ExitedNormally, ErrorCode and ErrorLog describe the most recently
	// completed check and are untouched while a check runs.
	ExitedNormally bool
	ErrorCode      int
	ErrorLog       []byte
	// Outcome is meaningful once LastChecked is set.
	Outcome OutcomeKind

	// Updates is the list found by the last check, empty while checking.
	Updates []updateinfo.Record

	// CheckID is the in-flight or last completed check.
	CheckID     string
	LastChecked time.Time
}

func initialState() *State {
	return &State{
		Phase:          PhaseIdle,
		ExitedNormally: true,
		ErrorCode:      ExitSuccess,
	}
}
