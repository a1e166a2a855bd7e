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
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.log")
	l := NewEventLog(path)
	assert.Equal(t, path, l.Path())

	require.NoError(t, l.LogCheckStart("c1", "/opt/tool", []string{"--checkupdates", "--proxy", "http://p"}))
	require.NoError(t, l.LogCheckDone("c1", "updates", 0, true, 1500*time.Millisecond))
	require.NoError(t, l.LogStop("c2", 3*time.Second, true))
	require.NoError(t, l.LogStopFailure("c2", errors.New("still running")))
	require.NoError(t, l.LogCheckRejected("/opt/tool", errors.New("already running")))
	require.NoError(t, l.LogUpdaterLaunch("/opt/tool", []string{"--updater"}, 4242))
	require.NoError(t, l.LogUpdaterLaunchFailure("/opt/tool", errors.New("exec format error")))

	events := readEvents(t, path)
	require.Len(t, events, 7)

	assert.Equal(t, "check_start", events[0].Event)
	assert.Equal(t, map[string]string{"checkupdates": "true", "proxy": "http://p"}, events[0].Flags)

	done := events[1]
	assert.Equal(t, "check_done", done.Event)
	assert.Equal(t, "updates", done.Outcome)
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 0, *done.ExitCode)
	require.NotNil(t, done.ExitedNormally)
	assert.True(t, *done.ExitedNormally)
	assert.Equal(t, int64(1500), done.DurationMS)
	assert.True(t, done.Success)

	assert.Contains(t, events[2].Message, "async")
	assert.False(t, events[3].Success)
	assert.Equal(t, "already running", events[4].Error)
	assert.Equal(t, 4242, events[5].PID)
	assert.Equal(t, "updater_launch_failure", events[6].Event)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode()&os.ModePerm)
}

func TestEventLog_NilAndEmptyPathDiscard(t *testing.T) {
	var l *EventLog
	assert.NoError(t, l.LogCheckStart("c", "tool", nil))
	assert.Equal(t, "", l.Path())

	assert.NoError(t, NewEventLog("").LogCheckDone("c", "error", 1, false, 0))
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{"none", nil, nil},
		{"boolean", []string{"--updater"}, map[string]string{"updater": "true"}},
		{"value", []string{"--proxy", "host"}, map[string]string{"proxy": "host"}},
		{"equals", []string{"--lang=de"}, map[string]string{"lang": "de"}},
		{"positional ignored", []string{"install", "-v"}, map[string]string{"v": "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFlags(tt.args))
		})
	}
}
