// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/config"
	"github.com/ik5/audwave/internal/audiotest"
	"github.com/ik5/audwave/waveform"
)

var quiet = log.New(io.Discard)

func testConfig() config.Config {
	c := config.Default()
	c.MaxConcurrentOperations = 2
	c.PoolSize = 2
	c.IdleWorkerTimeout = time.Hour
	c.WorkerLivenessTimeout = 5 * time.Second
	c.LogLevel = "error"
	return c
}

func newPool(t *testing.T, cfg config.Config, opts ...Option) *Pool {
	t.Helper()

	opts = append([]Option{WithLogger(quiet), WithLibrary(codec.NewLibrary())}, opts...)
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(p.Dispose)
	return p
}

func waveCfg(resolution int) waveform.Config {
	c := waveform.DefaultConfig()
	c.Resolution = resolution
	return c
}

func wait(t *testing.T, h *Handle) (*waveform.Data, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	data, err := h.Wait(ctx)
	if audio.IsKind(err, audio.KindCancelled) && ctx.Err() != nil {
		t.Fatalf("task %s did not finish", h.ID())
	}
	return data, err
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sineWAV(t *testing.T, dir, name string, seconds int) string {
	t.Helper()
	return audiotest.WriteFile(t, dir, name, audiotest.WAV16(8000, 1, audiotest.SineInt16(8000, 1, 8000*seconds, 440, 0.5)))
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	return audiotest.WriteFile(t, dir, name, []byte("x"))
}

// fakeProcessor stands in for the decoder. Calls block on gate, reporting
// progress every 10ms, until it is stepped or opened. Paths containing
// "panic" panic; paths containing "hang" block silently and ignore ctx.
type fakeProcessor struct {
	gate     chan struct{}
	openOnce sync.Once

	mu      sync.Mutex
	started []string
	// finishedAt records, per path, how many calls had finished when it
	// started.
	finishedAt map[string]int64

	running    atomic.Int32
	maxRunning atomic.Int32
	finished   atomic.Int64
	delay      time.Duration
}

func newFake(t *testing.T, blocking bool) *fakeProcessor {
	f := &fakeProcessor{gate: make(chan struct{}), finishedAt: make(map[string]int64)}
	if !blocking {
		f.open()
	}
	t.Cleanup(f.open)
	return f
}

func (f *fakeProcessor) open() { f.openOnce.Do(func() { close(f.gate) }) }

func (f *fakeProcessor) step() { f.gate <- struct{}{} }

func (f *fakeProcessor) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeProcessor) Process(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxRunning.Load()
		if n <= m || f.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.started = append(f.started, filepath.Base(req.Path))
	f.finishedAt[filepath.Base(req.Path)] = f.finished.Load()
	f.mu.Unlock()

	report(Progress{Fraction: 0.5, Status: "working"})
	switch {
	case strings.Contains(req.Path, "panic"):
		panic("decoder exploded")
	case strings.Contains(req.Path, "hang"):
		<-f.gate
	default:
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
	blocked:
		for {
			select {
			case <-f.gate:
				break blocked
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tick.C:
				report(Progress{Fraction: 0.5, Status: "working"})
			}
		}
	}
	time.Sleep(f.delay)
	defer f.finished.Add(1)

	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}
	return waveform.Generate(samples, 8000, 1, req.Config)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PoolSize = 3
	if _, err := New(cfg); !audio.IsKind(err, audio.KindConfiguration) {
		t.Errorf("New() error = %v, want configuration error", err)
	}
}

func TestGenerate_WAV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int64
	}{
		{"whole", 50 << 20},
		{"chunked", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.ChunkThreshold = tt.threshold
			p := newPool(t, cfg)
			path := sineWAV(t, t.TempDir(), "tone.wav", 3)

			for _, res := range []int{1, 7, 100} {
				data, err := wait(t, p.Submit(path, waveCfg(res)))
				if err != nil {
					t.Fatalf("resolution %d: %v", res, err)
				}
				if len(data.Amplitudes) != res {
					t.Errorf("len(Amplitudes) = %d, want %d", len(data.Amplitudes), res)
				}
				if data.SampleRate != 8000 || data.DurationMs != 3000 || data.Metadata.Format != "wav" {
					t.Errorf("data = rate %d, %d ms, format %q", data.SampleRate, data.DurationMs, data.Metadata.Format)
				}
			}

			s := p.Statistics()
			if s.CompletedTasks != 3 || s.Decodes != 3 || s.FailedTasks != 0 {
				t.Errorf("Statistics() = %+v", s)
			}
		})
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0x55}, 2000)...)

	tests := []struct {
		name string
		path string
		cfg  waveform.Config
		want audio.Kind
	}{
		{"missing", filepath.Join(dir, "missing.wav"), waveCfg(10), audio.KindFileAccess},
		{"directory", dir, waveCfg(10), audio.KindFileAccess},
		{"empty", audiotest.WriteFile(t, dir, "empty.wav", nil), waveCfg(10), audio.KindDecoding},
		{"text", audiotest.WriteFile(t, dir, "notes.txt", []byte("hello there")), waveCfg(10), audio.KindUnsupportedFormat},
		{"corrupt mp3", audiotest.WriteFile(t, dir, "bad.mp3", corrupt), waveCfg(10), audio.KindDecoding},
		{"bad config", sineWAV(t, dir, "ok.wav", 1), waveCfg(0), audio.KindConfiguration},
	}

	p := newPool(t, testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := wait(t, p.Submit(tt.path, tt.cfg))
			if err == nil {
				t.Fatalf("Submit() = %v, want error", data)
			}
			if got := audio.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", err, got, tt.want)
			}
		})
	}
	if s := p.Statistics(); s.FailedTasks != uint64(len(tests)) || s.ActiveWorkers != 0 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestCache_RepeatIsServedFromCache(t *testing.T) {
	t.Parallel()

	p := newPool(t, testConfig())
	path := sineWAV(t, t.TempDir(), "tone.wav", 2)

	first, err := wait(t, p.Submit(path, waveCfg(50)))
	if err != nil {
		t.Fatal(err)
	}
	before := p.Statistics()

	second, err := wait(t, p.Submit(path, waveCfg(50)))
	if err != nil {
		t.Fatal(err)
	}
	after := p.Statistics()

	if second != first || !second.Equal(first) {
		t.Error("second result differs from the first")
	}
	if after.Cache.Hits != before.Cache.Hits+1 {
		t.Errorf("cache hits %d -> %d, want +1", before.Cache.Hits, after.Cache.Hits)
	}
	if after.Decodes != before.Decodes {
		t.Errorf("decodes %d -> %d, want no new decode", before.Decodes, after.Decodes)
	}
	if after.CompletedTasks != 2 || after.Cache.SizeBytes > testConfig().MaxMemoryUsage {
		t.Errorf("Statistics() = %+v", after)
	}

	// A different config is a different fingerprint.
	if _, err := wait(t, p.Submit(path, waveCfg(51))); err != nil {
		t.Fatal(err)
	}
	if s := p.Statistics(); s.Decodes != after.Decodes+1 {
		t.Errorf("Decodes = %d, want %d", s.Decodes, after.Decodes+1)
	}
}

func TestCache_Disabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EnableCaching = false
	f := newFake(t, false)
	p := newPool(t, cfg, WithProcessor(f))
	path := touch(t, t.TempDir(), "a.wav")

	for range 2 {
		if _, err := wait(t, p.Submit(path, waveCfg(10))); err != nil {
			t.Fatal(err)
		}
	}
	if s := p.Statistics(); s.Decodes != 2 || s.Cache != (Stats{}).Cache {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestBackpressure(t *testing.T) {
	t.Parallel()

	f := newFake(t, true)
	p := newPool(t, testConfig(), WithProcessor(f))
	dir := t.TempDir()

	h1 := p.Submit(touch(t, dir, "one.wav"), waveCfg(10))
	h2 := p.Submit(touch(t, dir, "two.wav"), waveCfg(10))
	h3 := p.Submit(touch(t, dir, "three.wav"), waveCfg(10))

	eventually(t, "two decodes to start", func() bool { return f.starts() == 2 })
	time.Sleep(50 * time.Millisecond)
	if n := f.starts(); n != 2 {
		t.Fatalf("%d decodes started with a limit of 2", n)
	}
	if s := p.Statistics(); s.ActiveWorkers != 2 || s.QueuedTasks != 1 {
		t.Errorf("Statistics() = %+v, want 2 active and 1 queued", s)
	}

	f.step()
	eventually(t, "the third decode to start", func() bool { return f.starts() == 3 })
	f.mu.Lock()
	done := f.finishedAt["three.wav"]
	f.mu.Unlock()
	if done < 1 {
		t.Error("third decode started before either of the first two finished")
	}

	f.open()
	for _, h := range []*Handle{h1, h2, h3} {
		if _, err := wait(t, h); err != nil {
			t.Error(err)
		}
	}
}

func TestAdmission_FIFO(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxConcurrentOperations = 1
	cfg.PoolSize = 1
	f := newFake(t, true)
	p := newPool(t, cfg, WithProcessor(f))
	dir := t.TempDir()

	names := []string{"a.wav", "b.wav", "c.wav", "d.wav", "e.wav"}
	var hs []*Handle
	for _, n := range names {
		hs = append(hs, p.Submit(touch(t, dir, n), waveCfg(10)))
	}
	// Cancelling a queued job must not disturb the order of the rest.
	if !p.Cancel(hs[2].ID()) {
		t.Fatal("Cancel() = false for a queued task")
	}

	for i := range 4 {
		eventually(t, "next admission", func() bool { return f.starts() == i+1 })
		if i < 3 {
			f.step()
		}
	}
	f.open()
	for i, h := range hs {
		if _, err := wait(t, h); (err != nil) != (i == 2) {
			t.Errorf("%s: error = %v", names[i], err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	want := []string{"a.wav", "b.wav", "d.wav", "e.wav"}
	if strings.Join(f.started, ",") != strings.Join(want, ",") {
		t.Errorf("admission order = %v, want %v", f.started, want)
	}
}

func TestBusyNeverExceedsPoolSize(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxConcurrentOperations = 6
	cfg.PoolSize = 2
	f := newFake(t, false)
	f.delay = 5 * time.Millisecond
	p := newPool(t, cfg, WithProcessor(f))
	path := touch(t, t.TempDir(), "a.wav")

	var hs []*Handle
	for res := 10; res < 22; res++ {
		hs = append(hs, p.Submit(path, waveCfg(res)))
	}

	stop := make(chan struct{})
	var peak atomic.Int32
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			busy := 0
			for _, st := range p.Workers() {
				if st == Busy {
					busy++
				}
			}
			if int32(busy) > peak.Load() {
				peak.Store(int32(busy))
			}
		}
	}()

	for _, h := range hs {
		if _, err := wait(t, h); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)

	if m := f.maxRunning.Load(); m > 2 {
		t.Errorf("%d decodes ran at once with pool size 2", m)
	}
	if m := peak.Load(); m > 2 {
		t.Errorf("observed %d busy workers with pool size 2", m)
	}
	if s := p.Statistics(); s.TotalWorkers > 2 || s.Decodes != 12 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	f := newFake(t, true)
	p := newPool(t, testConfig(), WithProcessor(f))
	path := touch(t, t.TempDir(), "a.wav")

	h1 := p.Submit(path, waveCfg(10))
	h2 := p.Submit(path, waveCfg(10))
	h3 := p.Submit(path, waveCfg(10))
	eventually(t, "decode to start", func() bool { return f.starts() == 1 })

	if !p.Cancel(h3.ID()) {
		t.Error("Cancel() = false for an attached task")
	}
	time.Sleep(20 * time.Millisecond)
	if n := f.starts(); n != 1 {
		t.Fatalf("%d decodes for one fingerprint", n)
	}

	f.open()
	d1, err1 := wait(t, h1)
	d2, err2 := wait(t, h2)
	if err1 != nil || err2 != nil || d1 != d2 {
		t.Errorf("attached results = %p %v, %p %v", d1, err1, d2, err2)
	}
	if _, err := wait(t, h3); !errors.Is(err, audio.ErrCancelled) {
		t.Errorf("cancelled attached task error = %v", err)
	}
	if s := p.Statistics(); s.Decodes != 1 || s.CompletedTasks != 2 || s.CancelledTasks != 1 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestCancel_Queued(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxConcurrentOperations, cfg.PoolSize = 1, 1
	f := newFake(t, true)
	p := newPool(t, cfg, WithProcessor(f))
	dir := t.TempDir()

	running := p.Submit(touch(t, dir, "a.wav"), waveCfg(10))
	queued := p.Submit(touch(t, dir, "b.wav"), waveCfg(10))
	eventually(t, "first decode", func() bool { return f.starts() == 1 })

	if !p.Cancel(queued.ID()) {
		t.Fatal("Cancel() = false for a queued task")
	}
	select {
	case <-queued.Done():
	default:
		t.Fatal("queued task not settled when Cancel returned")
	}
	if _, err := queued.Result(); !audio.IsKind(err, audio.KindCancelled) {
		t.Errorf("Result() error = %v", err)
	}
	if p.Cancel(queued.ID()) {
		t.Error("second Cancel() = true")
	}

	f.open()
	if _, err := wait(t, running); err != nil {
		t.Fatal(err)
	}
	if n := f.starts(); n != 1 {
		t.Errorf("cancelled task was decoded (%d starts)", n)
	}
	if s := p.Statistics(); s.QueuedTasks != 0 || s.CancelledTasks != 1 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestCancel_Running(t *testing.T) {
	t.Parallel()

	f := newFake(t, true)
	p := newPool(t, testConfig(), WithProcessor(f))
	h := p.Submit(touch(t, t.TempDir(), "a.wav"), waveCfg(10))
	eventually(t, "decode to start", func() bool { return p.Statistics().ActiveWorkers == 1 })

	if !p.Cancel(h.ID()) {
		t.Fatal("Cancel() = false")
	}
	if _, err := h.Result(); !audio.IsKind(err, audio.KindCancelled) {
		t.Errorf("Result() error = %v", err)
	}
	if p.Cancel(h.ID()) {
		t.Error("second Cancel() = true")
	}
	eventually(t, "worker to go idle", func() bool {
		s := p.Statistics()
		return s.ActiveWorkers == 0 && s.IdleWorkers == 1
	})
	if s := p.Statistics(); s.Decodes != 0 || s.CancelledTasks != 1 {
		t.Errorf("Statistics() = %+v", s)
	}
	if p.Cancel("no-such-task") {
		t.Error("Cancel(unknown) = true")
	}
}

func TestCancel_MidDecode(t *testing.T) {
	if testing.Short() {
		t.Skip("writes a 600 MiB sparse file")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "large.wav")
	audiotest.WriteSparseWAV(t, path, 44100, 2, 600<<20)

	p := newPool(t, testConfig())
	prior := p.Statistics().ActiveWorkers

	h := p.SubmitStreaming(path, waveCfg(200))
	select {
	case ev := <-h.Events():
		if ev.Complete {
			t.Fatalf("decode finished before it could be cancelled: %+v", ev)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("no progress event")
	}

	start := time.Now()
	if !p.Cancel(h.ID()) {
		t.Fatal("Cancel() = false")
	}
	if _, err := wait(t, h); !audio.IsKind(err, audio.KindCancelled) {
		t.Fatalf("Wait() error = %v", err)
	}
	eventually(t, "active workers to return", func() bool { return p.Statistics().ActiveWorkers == prior })
	t.Logf("worker released %v after cancel", time.Since(start))

	var last Event
	for ev := range h.Events() {
		last = ev
	}
	if !last.Complete || !audio.IsKind(last.Err, audio.KindCancelled) {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestStreaming(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ChunkThreshold = 0
	p := newPool(t, cfg)
	path := sineWAV(t, t.TempDir(), "tone.wav", 30)

	h := p.SubmitStreaming(path, waveCfg(64))
	var events []Event
	for ev := range h.Events() {
		events = append(events, ev)
	}
	if len(events) < 2 {
		t.Fatalf("got %d events, want progress and completion", len(events))
	}

	prev := 0.0
	for i, ev := range events {
		if ev.Progress < prev || ev.Progress > 1 {
			t.Errorf("event %d progress %v after %v", i, ev.Progress, prev)
		}
		prev = ev.Progress
		if ev.Partial != nil && len(ev.Partial) != 64 {
			t.Errorf("event %d partial length %d", i, len(ev.Partial))
		}
		if ev.Complete != (i == len(events)-1) {
			t.Errorf("event %d Complete = %t", i, ev.Complete)
		}
	}
	last := events[len(events)-1]
	if last.Err != nil || last.Data == nil || len(last.Data.Amplitudes) != 64 || last.Progress != 1 {
		t.Errorf("terminal event = %+v", last)
	}
	if data, err := h.Result(); err != nil || data != last.Data {
		t.Errorf("Result() = %p, %v", data, err)
	}

	// A cached result still ends the stream with one terminal event.
	h = p.SubmitStreaming(path, waveCfg(64))
	n := 0
	for ev := range h.Events() {
		n++
		if !ev.Complete || ev.Data == nil {
			t.Errorf("cached event = %+v", ev)
		}
	}
	if n != 1 {
		t.Errorf("cached stream had %d events", n)
	}
}

func TestCrash_Panic(t *testing.T) {
	t.Parallel()

	f := newFake(t, false)
	p := newPool(t, testConfig(), WithProcessor(f))
	dir := t.TempDir()

	_, err := wait(t, p.Submit(touch(t, dir, "panic.wav"), waveCfg(10)))
	if !errors.Is(err, audio.ErrCrashDetected) {
		t.Fatalf("error = %v, want crash", err)
	}
	if !strings.Contains(err.Error(), "decoder exploded") {
		t.Errorf("error %q lost the panic value", err)
	}

	if _, err := wait(t, p.Submit(touch(t, dir, "fine.wav"), waveCfg(10))); err != nil {
		t.Errorf("pool did not recover: %v", err)
	}
	if s := p.Statistics(); s.CrashedTasks != 1 || s.FailedTasks != 1 || s.CompletedTasks != 1 || s.TotalWorkers > 2 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestCrash_Liveness(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WorkerLivenessTimeout = 100 * time.Millisecond
	f := newFake(t, true)
	p := newPool(t, cfg, WithProcessor(f))
	dir := t.TempDir()

	hung := p.Submit(touch(t, dir, "hang.wav"), waveCfg(10))
	other := p.Submit(touch(t, dir, "other.wav"), waveCfg(10))

	_, err := wait(t, hung)
	if !audio.IsKind(err, audio.KindCrashDetected) || !errors.Is(err, ErrLivenessTimeout) {
		t.Fatalf("error = %v, want liveness crash", err)
	}

	// The other task kept reporting, so it keeps its worker.
	f.open()
	if _, err := wait(t, other); err != nil {
		t.Errorf("unrelated task failed: %v", err)
	}
	if s := p.Statistics(); s.CrashedTasks < 1 || s.CompletedTasks != 1 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestLiveness_ProgressReportingDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EnableProgressReporting = false
	cfg.WorkerLivenessTimeout = 100 * time.Millisecond
	slow := ProcessorFunc(func(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		end := time.After(500 * time.Millisecond)
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-end:
				return waveform.Generate(make([]float32, 800), 8000, 1, req.Config)
			case <-tick.C:
				report(Progress{Fraction: 0.3, Status: "decoding"})
			}
		}
	})
	p := newPool(t, cfg, WithProcessor(slow))

	h := p.Submit(touch(t, t.TempDir(), "healthy.wav"), waveCfg(10))
	if _, err := wait(t, h); err != nil {
		t.Fatalf("healthy task outlived by liveness check: %v", err)
	}
	if h.Progress() != 1 {
		t.Errorf("Progress() = %v after completion", h.Progress())
	}
	if s := p.Statistics(); s.CrashedTasks != 0 {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestProgress_NonStreamingHandle(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{true, false} {
		cfg := testConfig()
		cfg.EnableProgressReporting = enabled
		f := newFake(t, true)
		p := newPool(t, cfg, WithProcessor(f))

		h := p.Submit(touch(t, t.TempDir(), "a.wav"), waveCfg(10))
		if enabled {
			eventually(t, "progress", func() bool { return h.Progress() == 0.5 })
		} else {
			eventually(t, "decode to start", func() bool { return f.starts() == 1 })
			time.Sleep(30 * time.Millisecond)
			if got := h.Progress(); got != 0 {
				t.Errorf("Progress() = %v with reporting disabled", got)
			}
		}
		f.open()
		if _, err := wait(t, h); err != nil {
			t.Errorf("enabled=%t: %v", enabled, err)
		}
	}
}

func TestStreaming_AttachToPlainJob(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EnableProgressReporting = false
	gate := make(chan struct{})
	var release sync.Once
	t.Cleanup(func() { release.Do(func() { close(gate) }) })
	var calls atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
		calls.Add(1)
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for f := 0.1; ; f = min(f+0.01, 0.9) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-gate:
				return waveform.Generate(make([]float32, 800), 8000, 1, req.Config)
			case <-tick.C:
				report(Progress{Fraction: f, Status: "decoding", Partial: make([]float64, req.Config.Resolution)})
			}
		}
	})
	p := newPool(t, cfg, WithProcessor(proc))
	path := touch(t, t.TempDir(), "shared.wav")

	plain := p.Submit(path, waveCfg(16))
	eventually(t, "decode to start", func() bool { return calls.Load() == 1 })
	stream := p.SubmitStreaming(path, waveCfg(16))

	var partials int
	for ev := range stream.Events() {
		if len(ev.Partial) == 16 {
			partials++
			if partials == 3 {
				release.Do(func() { close(gate) })
			}
		}
		if ev.Complete && ev.Err != nil {
			t.Fatalf("terminal event error = %v", ev.Err)
		}
	}
	if partials < 3 {
		t.Fatalf("attached streaming handle saw %d partials", partials)
	}
	if _, err := wait(t, plain); err != nil {
		t.Errorf("plain task: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("%d decodes for one fingerprint", n)
	}
}

func TestDispose(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxConcurrentOperations, cfg.PoolSize = 1, 1
	lib := codec.NewLibrary()
	f := newFake(t, true)
	p, err := New(cfg, WithLogger(quiet), WithLibrary(lib), WithProcessor(f))
	if err != nil {
		t.Fatal(err)
	}
	if lib.Refs() != 1 {
		t.Fatalf("Refs() = %d after New", lib.Refs())
	}
	dir := t.TempDir()

	running := p.Submit(touch(t, dir, "a.wav"), waveCfg(10))
	queued := p.Submit(touch(t, dir, "b.wav"), waveCfg(10))
	eventually(t, "decode to start", func() bool { return f.starts() == 1 })

	p.Dispose()
	for _, h := range []*Handle{running, queued} {
		if _, err := h.Result(); !audio.IsKind(err, audio.KindCancelled) {
			t.Errorf("task %s error = %v", h.ID(), err)
		}
	}
	if lib.Refs() != 0 {
		t.Errorf("Refs() = %d after Dispose", lib.Refs())
	}

	late := p.Submit(touch(t, dir, "c.wav"), waveCfg(10))
	if _, err := late.Result(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Submit after Dispose error = %v", err)
	}
	if p.Cancel(late.ID()) || p.CancelAll() != 0 {
		t.Error("cancel after Dispose reported work")
	}
	if s := p.Statistics(); s.CancelledTasks != 2 || s.TotalWorkers != 0 {
		t.Errorf("Statistics() = %+v", s)
	}
	p.Dispose()
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	f := newFake(t, true)
	p := newPool(t, testConfig(), WithProcessor(f))
	dir := t.TempDir()

	var hs []*Handle
	for _, name := range []string{"a.wav", "b.wav", "c.wav", "d.wav"} {
		hs = append(hs, p.Submit(touch(t, dir, name), waveCfg(10)))
	}
	eventually(t, "decodes to start", func() bool { return f.starts() == 2 })

	if n := p.CancelAll(); n != 4 {
		t.Errorf("CancelAll() = %d, want 4", n)
	}
	for _, h := range hs {
		if _, err := h.Result(); !audio.IsKind(err, audio.KindCancelled) {
			t.Errorf("task %s error = %v", h.ID(), err)
		}
	}
	if n := p.CancelAll(); n != 0 {
		t.Errorf("second CancelAll() = %d", n)
	}
	eventually(t, "workers to go idle", func() bool { return p.Statistics().ActiveWorkers == 0 })
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestOptimizeResources(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var used atomic.Int64
	used.Store(40)

	cfg := testConfig()
	cfg.MaxMemoryUsage = 3000
	cfg.MemoryPressurePercent = 90
	f := newFake(t, false)
	p := newPool(t, cfg, WithProcessor(f), WithClock(clk.Now),
		WithMemoryProbe(func() (float64, error) { return float64(used.Load()), nil }))
	dir := t.TempDir()

	for _, name := range []string{"a.wav", "b.wav"} {
		if _, err := wait(t, p.Submit(touch(t, dir, name), waveCfg(100))); err != nil {
			t.Fatal(err)
		}
	}
	before := p.Statistics()
	if before.Cache.Entries != 2 || before.IdleWorkers == 0 {
		t.Fatalf("Statistics() = %+v", before)
	}

	if o := p.OptimizeResources(); o.RetiredWorkers != 0 || o.EvictedEntries != 0 {
		t.Errorf("OptimizeResources() on a fresh pool = %+v", o)
	}

	clk.Advance(2 * time.Hour)
	used.Store(95)
	o := p.OptimizeResources()
	if o.RetiredWorkers != before.IdleWorkers || o.EvictedEntries != 1 || o.MemoryPercent != 95 {
		t.Errorf("OptimizeResources() = %+v, idle before %d", o, before.IdleWorkers)
	}
	s := p.Statistics()
	if s.TotalWorkers != 0 || s.Cache.Entries != 1 || s.Cache.SizeBytes > cfg.MaxMemoryUsage/2 {
		t.Errorf("Statistics() = %+v", s)
	}

	// Workers are spawned again on demand.
	if _, err := wait(t, p.Submit(touch(t, dir, "c.wav"), waveCfg(100))); err != nil {
		t.Fatal(err)
	}
	if s := p.Statistics(); s.TotalWorkers != 1 {
		t.Errorf("TotalWorkers = %d after respawn", s.TotalWorkers)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	f := newFake(t, false)
	p := newPool(t, testConfig(), WithProcessor(f), WithRegisterer(reg))
	path := touch(t, t.TempDir(), "a.wav")

	for range 2 {
		if _, err := wait(t, p.Submit(path, waveCfg(10))); err != nil {
			t.Fatal(err)
		}
	}
	if got := testutil.ToFloat64(p.m.tasks.WithLabelValues(outcomeCompleted)); got != 2 {
		t.Errorf("completed tasks = %v, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg, "audwave_pool_tasks_total"); err != nil || n != 4 {
		t.Errorf("tasks_total series = %d, %v", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "audwave_cache_hits_total"); err != nil || n != 1 {
		t.Errorf("cache hits series = %d, %v", n, err)
	}
}

func TestHandle_WaitContext(t *testing.T) {
	t.Parallel()

	h := newHandle("t", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Wait(ctx); !audio.IsKind(err, audio.KindCancelled) {
		t.Errorf("Wait() error = %v", err)
	}
	if data, err := h.Result(); data != nil || err != nil {
		t.Error("Result() before Done returned a value")
	}
	if !h.resolve(nil, os.ErrNotExist) || h.resolve(nil, nil) {
		t.Error("resolve() did not settle exactly once")
	}
	if _, err := h.Result(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Result() error = %v", err)
	}
}

func TestHandle_SlowReader(t *testing.T) {
	t.Parallel()

	h := newHandle("t", true)
	for i := range 3 * eventBuffer {
		h.publish(Event{Progress: float64(i) / float64(3*eventBuffer)})
	}
	h.publish(Event{Progress: 0.1})
	h.resolve(&waveform.Data{}, nil)

	var last Event
	prev := 0.0
	n := 0
	for ev := range h.Events() {
		if ev.Progress < prev {
			t.Errorf("progress went from %v to %v", prev, ev.Progress)
		}
		prev = ev.Progress
		last = ev
		n++
	}
	if n > eventBuffer || !last.Complete || last.Progress != 1 {
		t.Errorf("got %d events, last %+v", n, last)
	}
}
