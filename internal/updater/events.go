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
	"log/slog"
	"sync"

	"github.com/tombee/autoupdater/internal/updateinfo"
)

// Event is one of RunningChanged, CheckDone or UpdatesChanged.
type Event interface {
	isEvent()
}

// RunningChanged is emitted when a check is accepted and when it completes.
type RunningChanged struct {
	CheckID string
	Running bool
}

// CheckDone is emitted once per completed check, after State reflects it.
type CheckDone struct {
	CheckID    string
	HasUpdates bool
	HasError   bool
}

// UpdatesChanged carries the replacement update list: empty when a check
// starts, the found records when it completes with updates.
type UpdatesChanged struct {
	CheckID string
	Updates []updateinfo.Record
}

func (RunningChanged) isEvent() {}
func (CheckDone) isEvent()      {}
func (UpdatesChanged) isEvent() {}

// flushMarker is queued by Flush and closed when the dispatcher reaches it.
type flushMarker struct {
	done chan struct{}
}

func (flushMarker) isEvent() {}

type subscription struct {
	id int
	fn func(Event)
}

// eventBus delivers events in emission order on one dispatcher goroutine.
// The queue is unbounded so emitting never blocks the control loop.
type eventBus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	subs    []subscription
	nextSub int
	closed  bool
	done    chan struct{}
	logger  *slog.Logger
}

func newEventBus(logger *slog.Logger) *eventBus {
	b := &eventBus{
		done:   make(chan struct{}),
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *eventBus) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, ev)
	b.cond.Signal()
}

// flush waits until every event emitted before the call has been delivered.
func (b *eventBus) flush(ctx context.Context) error {
	marker := flushMarker{done: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.queue = append(b.queue, marker)
	b.cond.Signal()
	b.mu.Unlock()

	select {
	case <-marker.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting events and lets the dispatcher drain the queue.
func (b *eventBus) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.done
}

func (b *eventBus) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		subs := append([]subscription(nil), b.subs...)
		b.mu.Unlock()

		if m, ok := ev.(flushMarker); ok {
			close(m.done)
			continue
		}
		for _, s := range subs {
			b.deliver(s.fn, ev)
		}
	}
}

func (b *eventBus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", slog.Any("panic", r))
		}
	}()
	fn(ev)
}
