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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventBus {
	t.Helper()
	b := newEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.close)
	return b
}

func TestEventBus_DeliversInOrder(t *testing.T) {
	b := newTestBus(t)
	rec := &eventRecorder{}
	b.subscribe(rec.handle)

	for i := 0; i < 100; i++ {
		b.emit(RunningChanged{CheckID: "c", Running: i%2 == 0})
	}
	require.NoError(t, b.flush(context.Background()))

	events := rec.all()
	require.Len(t, events, 100)
	for i, ev := range events {
		assert.Equal(t, i%2 == 0, ev.(RunningChanged).Running)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	b := newTestBus(t)
	first, second := &eventRecorder{}, &eventRecorder{}
	unsub := b.subscribe(first.handle)
	b.subscribe(second.handle)

	b.emit(CheckDone{CheckID: "1"})
	require.NoError(t, b.flush(context.Background()))
	unsub()
	unsub()
	b.emit(CheckDone{CheckID: "2"})
	require.NoError(t, b.flush(context.Background()))

	assert.Len(t, first.all(), 1)
	assert.Len(t, second.all(), 2)
}

func TestEventBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := newTestBus(t)
	rec := &eventRecorder{}
	b.subscribe(func(Event) { panic("handler bug") })
	b.subscribe(rec.handle)

	b.emit(CheckDone{CheckID: "1"})
	b.emit(CheckDone{CheckID: "2"})
	require.NoError(t, b.flush(context.Background()))
	assert.Len(t, rec.all(), 2)
}

func TestEventBus_SlowHandlerDoesNotBlockEmit(t *testing.T) {
	b := newTestBus(t)
	release := make(chan struct{})
	b.subscribe(func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.emit(CheckDone{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a slow handler")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.flush(ctx), context.DeadlineExceeded)
	close(release)
}

func TestEventBus_EmitAfterCloseIsDropped(t *testing.T) {
	b := newEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &eventRecorder{}
	b.subscribe(rec.handle)

	b.emit(CheckDone{CheckID: "before"})
	b.close()
	b.emit(CheckDone{CheckID: "after"})

	assert.Equal(t, []Event{CheckDone{CheckID: "before"}}, rec.all())
	assert.NoError(t, b.flush(context.Background()))
}
