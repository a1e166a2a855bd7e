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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one line in the event log.
type Event struct {
	Timestamp      time.Time         `json:"timestamp"`
	Event          string            `json:"event"` // "check_start", "check_done", "stop", "updater_launch", etc.
	CheckID        string            `json:"check_id,omitempty"`
	Tool           string            `json:"tool,omitempty"`
	PID            int               `json:"pid,omitempty"`
	Outcome        string            `json:"outcome,omitempty"`
	ExitCode       *int              `json:"exit_code,omitempty"`
	ExitedNormally *bool             `json:"exited_normally,omitempty"`
	DurationMS     int64             `json:"duration_ms,omitempty"`
	Success        bool              `json:"success"`
	Message        string            `json:"message,omitempty"`
	Flags          map[string]string `json:"flags,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// EventLog appends check and launch events to a JSON-lines file.
// A nil *EventLog discards everything.
type EventLog struct {
	mu      sync.Mutex
	logPath string
}

// NewEventLog creates an event log writing to logPath.
func NewEventLog(logPath string) *EventLog {
	return &EventLog{
		logPath: logPath,
	}
}

// Path returns the log file path.
func (l *EventLog) Path() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// LogCheckStart logs that a check was accepted.
func (l *EventLog) LogCheckStart(checkID, tool string, args []string) error {
	return l.writeEvent(Event{
		Timestamp: time.Now(),
		Event:     "check_start",
		CheckID:   checkID,
		Tool:      tool,
		Success:   true,
		Message:   "Update check started",
		Flags:     parseFlags(args),
	})
}

// LogCheckRejected logs a check that could not be started.
func (l *EventLog) LogCheckRejected(tool string, err error) error {
	return l.writeEvent(Event{
		Timestamp: time.Now(),
		Event:     "check_rejected",
		Tool:      tool,
		Success:   false,
		Message:   "Update check rejected",
		Error:     errString(err),
	})
}

// LogCheckDone logs a completed check and its classified outcome.
func (l *EventLog) LogCheckDone(checkID, outcome string, exitCode int, exitedNormally bool, duration time.Duration) error {
	return l.writeEvent(Event{
		Timestamp:      time.Now(),
		Event:          "check_done",
		CheckID:        checkID,
		Outcome:        outcome,
		ExitCode:       &exitCode,
		ExitedNormally: &exitedNormally,
		DurationMS:     duration.Milliseconds(),
		Success:        outcome != "error",
		Message:        fmt.Sprintf("Update check finished (outcome: %s, duration: %v)", outcome, duration),
	})
}

// LogStop logs a stop request for a running check.
func (l *EventLog) LogStop(checkID string, grace time.Duration, async bool) error {
	message := fmt.Sprintf("Update check stop requested (grace: %v)", grace)
	if async {
		message = fmt.Sprintf("Update check async stop requested (grace: %v)", grace)
	}
	return l.writeEvent(Event{
		Timestamp: time.Now(),
		Event:     "stop",
		CheckID:   checkID,
		Success:   true,
		Message:   message,
	})
}

// LogStopFailure logs a stop that did not complete in time.
func (l *EventLog) LogStopFailure(checkID string, err error) error {
	return l.writeEvent(Event{
		Timestamp: time.Now(),
		Event:     "stop_failure",
		CheckID:   checkID,
		Success:   false,
		Message:   "Failed to stop update check",
		Error:     errString(err),
	})
}

// LogUpdaterLaunch logs a successful detached updater launch.
func (l *EventLog) LogUpdaterLaunch(tool string, args []string, pid int) error {
	return l.writeEvent(Event{
		Timestamp: time.Now(),
		Event:     "updater_launch",
		Tool:      tool,
		PID:       pid,
		Success:   true,
		Message:   "Updater launched",
		Flags:     parseFlags(args),
	})
}

// LogUpdaterLaunchFailure logs a failed updater launch.
func (l *EventLog) LogUpdaterLaunchFailure(tool string, err error) error {
	return l.writeEvent(Event{
		Timestamp: time.Now(),
		Event:     "updater_launch_failure",
		Tool:      tool,
		Success:   false,
		Message:   "Failed to launch updater",
		Error:     errString(err),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// writeEvent appends an event to the log file.
func (l *EventLog) writeEvent(event Event) error {
	if l == nil || l.logPath == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Ensure log directory exists
	logDir := filepath.Dir(l.logPath)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// parseFlags converts tool arguments to a map of flags for logging.
func parseFlags(args []string) map[string]string {
	if len(args) == 0 {
		return nil
	}
	flags := make(map[string]string)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		key := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}

		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
		} else {
			flags[key] = "true"
		}
	}

	return flags
}
