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

// Package scheduler fires callbacks at absolute times, after delays, or on a
// repeating interval.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/autoupdater/internal/log"
	updatererrors "github.com/tombee/autoupdater/pkg/errors"
)

// CoalesceWindow is how far ahead of its due time a task may fire when it
// is batched with an earlier one.
const CoalesceWindow = 25 * time.Millisecond

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = log.WithComponent(logger, "scheduler")
	}
}

// Scheduler is a timer service backed by a min-heap of due times.
// Callbacks run one at a time on the scheduler goroutine.
type Scheduler struct {
	mu      sync.Mutex
	queue   taskHeap
	tasks   map[TaskID]*task
	lastID  TaskID
	seq     uint64
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	logger  *slog.Logger
}

// New creates a scheduler. Tasks may be scheduled before Start; they fire
// once the loop is running.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[TaskID]*task),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.WithComponent(nil, "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleAt registers fn to run once at the given time. A time in the past
// fires as soon as the scheduler runs.
func (s *Scheduler) ScheduleAt(at time.Time, fn Func, arg any) (TaskID, error) {
	if fn == nil {
		return 0, &updatererrors.ValidationError{Field: "fn", Message: "callback is required"}
	}
	if at.IsZero() {
		return 0, &updatererrors.ValidationError{
			Field:      "at",
			Message:    "time must be set",
			Suggestion: "use ScheduleAfter for relative delays",
		}
	}
	return s.add(PolicyAbsolute, at, 0, fn, arg), nil
}

// ScheduleAfter registers fn to run after delay. When repeating is true the
// task fires every delay until cancelled, anchored to its first due time.
func (s *Scheduler) ScheduleAfter(delay time.Duration, fn Func, arg any, repeating bool) (TaskID, error) {
	if fn == nil {
		return 0, &updatererrors.ValidationError{Field: "fn", Message: "callback is required"}
	}
	if delay < 0 {
		return 0, &updatererrors.ValidationError{Field: "delay", Message: "must not be negative"}
	}
	if repeating && delay <= 0 {
		return 0, &updatererrors.ValidationError{
			Field:      "interval",
			Message:    "must be positive for repeating tasks",
			Suggestion: "pass a delay greater than zero",
		}
	}

	due := time.Now().Add(delay)
	if repeating {
		return s.add(PolicyRepeating, due, delay, fn, arg), nil
	}
	return s.add(PolicyRelative, due, 0, fn, arg), nil
}

func (s *Scheduler) add(policy Policy, due time.Time, interval time.Duration, fn Func, arg any) TaskID {
	s.mu.Lock()
	s.lastID++
	s.seq++
	t := &task{
		id:       s.lastID,
		policy:   policy,
		due:      due,
		interval: interval,
		fn:       fn,
		arg:      arg,
		seq:      s.seq,
	}
	s.tasks[t.id] = t
	heap.Push(&s.queue, t)
	s.mu.Unlock()

	pendingTasks.Inc()
	s.logger.Debug("task scheduled",
		slog.Int64(log.TaskIDKey, int64(t.id)),
		slog.String("policy", policy.String()),
		slog.Time("due", due),
	)
	s.notify()
	return t.id
}

// Cancel removes a task. Unknown, fired one-shot and already cancelled IDs
// are ignored. A task batched with an earlier one is still cancellable until
// its callback starts. Cancelling from inside the task's own callback only
// prevents future firings.
func (s *Scheduler) Cancel(id TaskID) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.cancelled = true
	delete(s.tasks, id)
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
	s.mu.Unlock()

	pendingTasks.Dec()
	s.logger.Debug("task cancelled", slog.Int64(log.TaskIDKey, int64(id)))
	s.notify()
}

// Pending returns the number of live tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Lookup returns the status of a live task.
func (s *Scheduler) Lookup(id TaskID) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return statusOf(t), true
}

// Start starts the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stop
	s.doneCh = done
	s.mu.Unlock()

	go s.run(ctx, stop, done)
}

// Stop stops the scheduler loop and waits for an in-progress callback to
// return. It must not be called from a callback. Pending tasks are kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the main scheduler loop. A loop ended by ctx leaves the scheduler
// stopped so a later Start can run it again.
func (s *Scheduler) run(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.doneCh == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		next := s.queue.peek()
		var wait time.Duration
		if next != nil {
			wait = time.Until(next.due)
		}
		s.mu.Unlock()

		if next == nil {
			timer.Stop()
		} else {
			timer.Reset(max(wait, 0))
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.wake:
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

type firing struct {
	t   *task
	due time.Time
}

// fireDue pops every task due within the coalescing window and runs the
// callbacks outside the lock.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	horizon := now.Add(CoalesceWindow)

	s.mu.Lock()
	var batch []firing
	var rearm []*task
	for {
		t := s.queue.peek()
		if t == nil || t.due.After(horizon) {
			break
		}
		heap.Pop(&s.queue)
		batch = append(batch, firing{t: t, due: t.due})

		if t.policy == PolicyRepeating {
			t.due = nextDue(t.due, t.interval, now)
			rearm = append(rearm, t)
		}
	}
	for _, t := range rearm {
		s.seq++
		t.seq = s.seq
		heap.Push(&s.queue, t)
	}
	s.mu.Unlock()

	for _, f := range batch {
		s.invoke(ctx, f)
	}
}

// nextDue advances a repeating task by whole intervals past now, skipping
// any due times missed while a callback ran long.
func nextDue(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if !next.After(now) {
		missed := now.Sub(next)/interval + 1
		next = next.Add(missed * interval)
	}
	return next
}

func (s *Scheduler) invoke(ctx context.Context, f firing) {
	s.mu.Lock()
	if f.t.cancelled {
		s.mu.Unlock()
		return
	}
	f.t.fired++
	f.t.lastFired = time.Now()
	oneShot := f.t.policy != PolicyRepeating
	if oneShot {
		delete(s.tasks, f.t.id)
	}
	s.mu.Unlock()

	if oneShot {
		pendingTasks.Dec()
	}
	recordFired(f.t.policy)

	logger := s.logger.With(slog.Int64(log.TaskIDKey, int64(f.t.id)))
	logger.Debug("task firing", slog.Time("due", f.due))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task callback panicked", slog.Any("panic", r))
			recordPanic()
		}
	}()
	f.t.fn(ctx, f.t.arg)
}

// TaskStatus contains status information for a task.
type TaskStatus struct {
	ID        TaskID        `json:"id"`
	Policy    string        `json:"policy"`
	Due       time.Time     `json:"due"`
	Interval  time.Duration `json:"interval,omitempty"`
	FireCount int64         `json:"fire_count"`
	LastFired *time.Time    `json:"last_fired,omitempty"`
}

func statusOf(t *task) TaskStatus {
	st := TaskStatus{
		ID:        t.id,
		Policy:    t.policy.String(),
		Due:       t.due,
		Interval:  t.interval,
		FireCount: t.fired,
	}
	if !t.lastFired.IsZero() {
		last := t.lastFired
		st.LastFired = &last
	}
	return st
}

// Status returns the status of all live tasks ordered by ID.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		result = append(result, statusOf(t))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// String implements fmt.Stringer for log output.
func (id TaskID) String() string {
	return fmt.Sprintf("task-%d", int64(id))
}
