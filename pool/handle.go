// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// eventBuffer bounds the events held for a slow reader. When it fills up
// the oldest progress events are dropped; the terminal event never is.
const eventBuffer = 64

// Event is one step of a streaming generation. The last event has Complete
// set and carries either Data or Err; no events follow it.
type Event struct {
	Progress float64
	Status   string
	// Partial is a provisional amplitude array. It is shared between
	// handles attached to the same decode and must not be modified.
	Partial  []float64
	Complete bool
	Data     *waveform.Data
	Err      error
}

// Handle is the pending result of a submitted task.
type Handle struct {
	id     string
	done   chan struct{}
	events chan Event

	once sync.Once
	data *waveform.Data
	err  error

	// Owned by the coordinator.
	progress float64
	// Mirror of progress for readers outside the coordinator.
	seen atomic.Uint64
}

func newHandle(id string, stream bool) *Handle {
	h := &Handle{id: id, done: make(chan struct{})}
	if stream {
		h.events = make(chan Event, eventBuffer)
	}
	return h
}

// ID identifies the task for Cancel.
func (h *Handle) ID() string { return h.id }

// Done is closed once the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Events streams progress for handles created by SubmitStreaming. It is nil
// otherwise. The channel is closed after the terminal event.
func (h *Handle) Events() <-chan Event { return h.events }

// Progress is the last reported completion fraction in [0, 1]. It stays
// at zero for non-streaming handles when progress reporting is disabled.
func (h *Handle) Progress() float64 {
	return math.Float64frombits(h.seen.Load())
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() (*waveform.Data, error) {
	select {
	case <-h.done:
		return h.data, h.err
	default:
		return nil, nil
	}
}

// Wait blocks until the task finishes or ctx ends. Ending ctx does not
// cancel the task.
func (h *Handle) Wait(ctx context.Context) (*waveform.Data, error) {
	select {
	case <-h.done:
		return h.data, h.err
	case <-ctx.Done():
		return nil, audio.WrapError(audio.KindCancelled, "pool.wait", "", ctx.Err())
	}
}

// publish records a progress event and queues it for streaming handles.
// Only the coordinator calls it.
func (h *Handle) publish(ev Event) {
	if ev.Progress < h.progress {
		ev.Progress = h.progress
	}
	h.progress = ev.Progress
	h.seen.Store(math.Float64bits(ev.Progress))
	if h.events == nil {
		return
	}
	select {
	case h.events <- ev:
	default:
	}
}

// resolve records the outcome, emits the terminal event and closes the
// handle. Later calls are no-ops.
func (h *Handle) resolve(data *waveform.Data, err error) bool {
	resolved := false
	h.once.Do(func() {
		resolved = true
		h.data, h.err = data, err
		if err == nil {
			h.seen.Store(math.Float64bits(1))
		}
		if h.events != nil {
			ev := Event{Progress: h.progress, Complete: true, Data: data, Err: err}
			if err == nil {
				ev.Progress = 1
			}
			for {
				select {
				case h.events <- ev:
					close(h.events)
					close(h.done)
					return
				default:
				}
				select {
				case <-h.events:
				default:
				}
			}
		}
		close(h.done)
	})
	return resolved
}
