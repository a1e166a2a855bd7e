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

/*
Package lifecycle supervises the external maintenance tool process.

# Supervising a check

A Supervisor owns at most one running invocation. Start returns as soon as
the process is running; the outcome is delivered on Results:

	sup := lifecycle.NewSupervisor(lifecycle.SupervisorConfig{})
	if err := sup.Start("/opt/app/maintenancetool", []string{"--checkupdates"}); err != nil {
	    // ErrAlreadyActive or ErrInvalidExecutable
	}
	res := <-sup.Results()

Stop sends a graceful terminate signal, waits for the grace period and then
kills the whole process tree:

	if err := sup.Stop(3*time.Second, false); err != nil {
	    // ErrNotActive or *errors.TimeoutError
	}

# Launching the updater

A Launcher starts the tool fully detached so it outlives the caller:

	pid, err := lifecycle.NewLauncher().Launch(toolPath, []string{"--updater"})

# Event log

Check outcomes, stops and updater launches can be appended to a JSON-lines
audit file:

	events := lifecycle.NewEventLog("/var/log/autoupdater/events.log")
	events.LogCheckStart(checkID, toolPath, args)
*/
package lifecycle
