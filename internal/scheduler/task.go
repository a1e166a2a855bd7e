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

package scheduler

import (
	"container/heap"
	"context"
	"time"
)

// TaskID identifies a scheduled task. IDs start at 1 and are never reused
// by the same Scheduler.
type TaskID int64

// Policy describes how a task's due time was derived.
type Policy int

const (
	// PolicyAbsolute fires once at a wall-clock time.
	PolicyAbsolute Policy = iota
	// PolicyRelative fires once after a delay.
	PolicyRelative
	// PolicyRepeating fires every interval until cancelled.
	PolicyRepeating
)

func (p Policy) String() string {
	switch p {
	case PolicyAbsolute:
		return "absolute"
	case PolicyRelative:
		return "relative"
	case PolicyRepeating:
		return "repeating"
	default:
		return "unknown"
	}
}

// Func is a task callback. ctx is the context the scheduler was started with.
type Func func(ctx context.Context, arg any)

type task struct {
	id       TaskID
	policy   Policy
	due      time.Time
	interval time.Duration
	fn       Func
	arg      any

	// seq orders tasks with equal due times by scheduling order.
	seq       uint64
	cancelled bool
	fired     int64
	lastFired time.Time

	// index is the position in the heap, -1 when not queued.
	index int
}

// taskHeap is a min-heap ordered by due time then seq.
type taskHeap []*task

var _ heap.Interface = (*taskHeap)(nil)

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h taskHeap) peek() *task {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
