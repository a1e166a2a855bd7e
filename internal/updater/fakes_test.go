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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/autoupdater/internal/lifecycle"
)

type stopCall struct {
	grace time.Duration
	async bool
}

// fakeSupervisor completes invocations only when told to.
type fakeSupervisor struct {
	mu       sync.Mutex
	active   bool
	starts   int
	args     [][]string
	stops    []stopCall
	startErr error
	results  chan lifecycle.Result
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{results: make(chan lifecycle.Result, 8)}
}

func (f *fakeSupervisor) Start(_ string, args []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		return lifecycle.ErrAlreadyActive
	}
	f.active = true
	f.starts++
	f.args = append(f.args, args)
	return nil
}

func (f *fakeSupervisor) Stop(grace time.Duration, async bool) error {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return lifecycle.ErrNotActive
	}
	f.stops = append(f.stops, stopCall{grace: grace, async: async})
	f.active = false
	f.mu.Unlock()

	f.results <- lifecycle.Result{ExitCode: -1, Stopped: true, Stdout: []byte("partial")}
	return nil
}

func (f *fakeSupervisor) Results() <-chan lifecycle.Result {
	return f.results
}

// finish completes the active invocation with res.
func (f *fakeSupervisor) finish(res lifecycle.Result) {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	f.results <- res
}

func (f *fakeSupervisor) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeSupervisor) stopCalls() []stopCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stopCall(nil), f.stops...)
}

type launchCall struct {
	binary string
	args   []string
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls []launchCall
	err   error
}

func (l *fakeLauncher) Launch(binary string, args []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, launchCall{binary: binary, args: args})
	if l.err != nil {
		return 0, l.err
	}
	return 4242, nil
}

func (l *fakeLauncher) launches() []launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launchCall(nil), l.calls...)
}

// eventRecorder collects events in delivery order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.all()) >= n
	}, 5*time.Second, 5*time.Millisecond, "waiting for %d events", n)
	return r.all()
}

func (r *eventRecorder) checkDones() []CheckDone {
	var out []CheckDone
	for _, ev := range r.all() {
		if cd, ok := ev.(CheckDone); ok {
			out = append(out, cd)
		}
	}
	return out
}

// newTestUpdater starts an updater around a fake supervisor and launcher.
func newTestUpdater(t *testing.T, opts ...Option) (*Updater, *fakeSupervisor, *fakeLauncher, *eventRecorder) {
	t.Helper()
	sup := newFakeSupervisor()
	launcher := &fakeLauncher{}
	all := append([]Option{WithSupervisor(sup), WithLauncher(launcher)}, opts...)

	u, err := New(Config{ToolPath: "/opt/app/maintenancetool"}, all...)
	require.NoError(t, err)

	rec := &eventRecorder{}
	u.Subscribe(rec.handle)
	u.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = u.Close(ctx)
	})
	return u, sup, launcher, rec
}
