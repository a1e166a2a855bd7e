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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/autoupdater/internal/lifecycle"
	"github.com/tombee/autoupdater/internal/scheduler"
)

// Supervisor runs the maintenance tool. *lifecycle.Supervisor implements it.
type Supervisor interface {
	Start(path string, args []string) error
	Stop(grace time.Duration, async bool) error
	Results() <-chan lifecycle.Result
}

// Launcher starts the tool detached. *lifecycle.Launcher implements it.
type Launcher interface {
	Launch(binary string, args []string) (int, error)
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = logger
	}
}

// WithTracer sets the tracer for check spans. The default is the global
// OpenTelemetry tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(u *Updater) {
		u.tracer = tracer
	}
}

// WithEventLog records check outcomes and launches to an audit file.
func WithEventLog(events *lifecycle.EventLog) Option {
	return func(u *Updater) {
		u.events = events
	}
}

// WithScheduler shares an existing scheduler. The updater starts it but
// leaves stopping it to the caller; only tasks the updater created are
// cancelled on Close.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(u *Updater) {
		u.sched = s
		u.ownsScheduler = false
	}
}

// WithSupervisor replaces the process supervisor.
func WithSupervisor(s Supervisor) Option {
	return func(u *Updater) {
		u.sup = s
	}
}

// WithLauncher replaces the detached launcher used for run-on-exit.
func WithLauncher(l Launcher) Option {
	return func(u *Updater) {
		u.launcher = l
	}
}
