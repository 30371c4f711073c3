// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/protocol"
)

// WorkerState is the lifecycle state of a worker unit.
type WorkerState int

const (
	Spawning WorkerState = iota
	Idle
	Busy
	Terminating
)

func (s WorkerState) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Terminating:
		return "terminating"
	}
	return fmt.Sprintf("WorkerState(%d)", int(s))
}

// mailboxSize bounds the messages queued for one worker unit.
const mailboxSize = 8

// report is an encoded message from a worker unit to the coordinator.
type report struct {
	worker int
	frame  []byte
}

// unit is the coordinator's record of a worker unit.
type unit struct {
	id         int
	state      WorkerState
	in         chan []byte
	lastActive time.Time
	job        *job
}

// worker is the goroutine side of a unit. It holds no state shared with
// the coordinator; everything arrives and leaves as protocol bytes.
type worker struct {
	id       int
	in       <-chan []byte
	out      chan<- report
	quit     <-chan struct{}
	codec    *protocol.Codec
	proc     Processor
	// beat is the longest a busy worker stays silent while its processor
	// keeps reporting the same progress.
	beat time.Duration
	log  *log.Logger
	wg       *sync.WaitGroup
}

// run handles messages until the mailbox is closed. Each request is
// processed on its own goroutine so a CancellationRequest can reach it.
func (w *worker) run() {
	defer w.wg.Done()

	var (
		current string
		cancel  context.CancelFunc = func() {}
	)
	defer func() { cancel() }()

	for b := range w.in {
		m, err := w.codec.Decode(b)
		if err != nil {
			w.log.Warn("dropping malformed message", "err", err)
			w.send(protocol.NewErrorMessage(current, err, ""))
			continue
		}
		switch m := m.(type) {
		case *protocol.ProcessingRequest:
			cancel()
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			current = m.ID
			w.wg.Add(1)
			go w.process(ctx, m)
		case *protocol.CancellationRequest:
			if m.RequestID == current {
				w.log.Debug("cancelling", "request", current)
				cancel()
			}
		default:
			w.log.Warn("unexpected message", "type", m.Type())
		}
	}
}

func (w *worker) process(ctx context.Context, req *protocol.ProcessingRequest) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := audio.WrapError(audio.KindCrashDetected, "worker.process", req.FilePath,
				fmt.Errorf("%w: %v", ErrWorkerPanic, r))
			w.log.Error("recovered from panic", "request", req.ID, "panic", r)
			w.send(protocol.NewErrorMessage(req.ID, err, string(debug.Stack())))
		}
	}()

	// Every report reaches the coordinator as a heartbeat, even when
	// nobody listens for progress; repeats are thinned to one per beat.
	var (
		last     float64
		status   string
		lastSent time.Time
	)
	report := func(p Progress) {
		f := p.Fraction
		if math.IsNaN(f) || f < last {
			f = last
		}
		f = min(f, 1)
		if f == last && p.Status == status && p.Partial == nil && time.Since(lastSent) < w.beat {
			return
		}
		last, status, lastSent = f, p.Status, time.Now()
		w.send(&protocol.ProgressUpdate{
			Header:    protocol.NewHeader(),
			RequestID: req.ID,
			Progress:  f,
			Status:    p.Status,
			Partial:   p.Partial,
		})
	}

	start := time.Now()
	data, err := w.proc.Process(ctx, Request{
		Path:   req.FilePath,
		Config: req.Config,
	}, report)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil && !audio.IsKind(err, audio.KindCancelled) {
			err = audio.WrapError(audio.KindCancelled, "worker.process", req.FilePath, ctx.Err())
		}
		w.log.Debug("request failed", "request", req.ID, "err", err)
		w.send(protocol.NewErrorMessage(req.ID, err, ""))
		return
	}

	w.log.Debug("request done", "request", req.ID, "took", time.Since(start))
	w.send(&protocol.ProcessingResponse{
		Header:     protocol.NewHeader(),
		RequestID:  req.ID,
		Data:       data,
		IsComplete: true,
	})
}

// send encodes m and posts it to the coordinator. A message that fails to
// encode is replaced by an ErrorMessage describing the failure.
func (w *worker) send(m protocol.Message) {
	b, err := w.codec.Marshal(m)
	if err != nil {
		b, err = w.codec.Marshal(protocol.NewErrorMessage(protocol.RequestIDOf(m), err, ""))
		if err != nil {
			w.log.Error("cannot encode message", "err", err)
			return
		}
	}
	select {
	case w.out <- report{worker: w.id, frame: b}:
	case <-w.quit:
	}
}
