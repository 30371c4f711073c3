// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/semaphore"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/cache"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/config"
	"github.com/ik5/audwave/protocol"
	"github.com/ik5/audwave/waveform"
)

// jobState tracks a decode from admission to its result.
type jobState int

const (
	jobWaiting jobState = iota // no admission permit yet
	jobReady                   // admitted, waiting for a worker
	jobRunning
)

// task is one submission. Several tasks may share a job.
type task struct {
	h  *Handle
	fp cache.Fingerprint
	j  *job
}

// job is one decode of a fingerprint.
type job struct {
	fp        cache.Fingerprint
	requestID string
	path      string
	cfg       waveform.Config
	stream    bool

	state   jobState
	tasks   []*task
	u       *unit
	started time.Time
	// orphaned jobs have lost every task and only wait for their worker.
	orphaned bool
}

// Pool is the worker pool manager.
type Pool struct {
	cfg   config.Config
	lib   *codec.Library
	proc  Processor
	log   *log.Logger
	codec *protocol.Codec
	cache *cache.Cache
	// sem holds the MaxConcurrentOperations permits. Only the coordinator
	// touches it, never blocking; p.waiting supplies the FIFO order.
	sem   *semaphore.Weighted
	reg   prometheus.Registerer
	m     *metrics
	now   func() time.Time
	probe func() (float64, error)

	ops   chan func()
	inbox chan report
	done  chan struct{}
	wg    sync.WaitGroup

	disposeOnce sync.Once
	final       Stats

	// Owned by the coordinator goroutine.
	units    map[int]*unit
	nextUnit int
	tasks    map[string]*task
	jobs     map[cache.Fingerprint]*job
	requests map[string]*job
	waiting  []*job
	ready    []*job
	counts   counters
	disposed bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger. Workers log through sub-loggers of it.
func WithLogger(l *log.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithRegisterer exports pool and cache metrics through reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.reg = reg }
}

// WithLibrary decodes through lib instead of codec.Default().
func WithLibrary(lib *codec.Library) Option {
	return func(p *Pool) { p.lib = lib }
}

// WithProcessor replaces the Decoder run by worker units.
func WithProcessor(proc Processor) Option {
	return func(p *Pool) { p.proc = proc }
}

// WithMemoryProbe replaces the host memory reading used by
// OptimizeResources. probe returns the used percentage.
func WithMemoryProbe(probe func() (float64, error)) Option {
	return func(p *Pool) { p.probe = probe }
}

// WithClock replaces time.Now for idle and liveness bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New validates cfg and starts the coordinator. The codec library is
// acquired here and released by Dispose.
func New(cfg config.Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:      cfg,
		lib:      codec.Default(),
		log:      log.Default(),
		now:      time.Now,
		probe:    hostMemoryPercent,
		reg:      prometheus.NewRegistry(),
		ops:      make(chan func()),
		inbox:    make(chan report, cfg.PoolSize*mailboxSize),
		done:     make(chan struct{}),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentOperations)),
		units:    make(map[int]*unit),
		tasks:    make(map[string]*task),
		jobs:     make(map[cache.Fingerprint]*job),
		requests: make(map[string]*job),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.m = newMetrics(p.reg)

	var copts []protocol.Option
	if cfg.CompressMessages {
		copts = append(copts, protocol.WithCompression(protocol.DefaultCompressThreshold))
	}
	p.codec = protocol.NewCodec(copts...)

	if cfg.EnableCaching {
		c, err := cache.New(cfg.MaxMemoryUsage, cache.WithRegisterer(p.reg), cache.WithClock(p.now))
		if err != nil {
			return nil, err
		}
		p.cache = c
	}

	if p.proc == nil {
		p.proc = &Decoder{
			Library:        p.lib,
			ChunkThreshold: cfg.ChunkThreshold,
			AnalysisRate:   cfg.AnalysisSampleRate,
			MaxSamples:     int(min(cfg.MaxMemoryUsage/4, math.MaxInt)),
			Logger:         p.log.With("component", "decoder"),
		}
	}
	if err := p.lib.Acquire(); err != nil {
		return nil, err
	}

	go p.loop()
	p.wg.Add(1)
	go p.janitor()

	p.log.Debug("pool started", "pool_size", cfg.PoolSize, "max_ops", cfg.MaxConcurrentOperations,
		"caching", cfg.EnableCaching, "chunk_threshold", cfg.ChunkThreshold)
	return p, nil
}

func hostMemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// loop is the coordinator. It alone touches the fields below the
// "Owned by the coordinator" marker.
func (p *Pool) loop() {
	defer close(p.done)

	tick := time.NewTicker(p.tickInterval())
	defer tick.Stop()

	for {
		select {
		case fn := <-p.ops:
			fn()
			if p.disposed {
				return
			}
		case r := <-p.inbox:
			p.receive(r)
		case <-tick.C:
			p.checkLiveness()
		}
	}
}

func (p *Pool) tickInterval() time.Duration {
	return min(max(p.cfg.WorkerLivenessTimeout/4, 10*time.Millisecond), time.Second)
}

// do runs fn on the coordinator and waits for it. It reports false once
// the pool is disposed.
func (p *Pool) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case p.ops <- func() { fn(); close(ran) }:
		<-ran
		return true
	case <-p.done:
		return false
	}
}

// janitor runs OptimizeResources periodically.
func (p *Pool) janitor() {
	defer p.wg.Done()

	every := min(max(p.cfg.IdleWorkerTimeout/2, 10*time.Millisecond), time.Minute)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.OptimizeResources()
		case <-p.done:
			return
		}
	}
}

// Submit queues path for generation with cfg and returns at once. The
// returned handle resolves with the waveform or a structured error.
func (p *Pool) Submit(path string, cfg waveform.Config) *Handle {
	return p.submit(path, cfg, false)
}

// SubmitStreaming is Submit with progress events on Handle.Events,
// including provisional amplitudes.
func (p *Pool) SubmitStreaming(path string, cfg waveform.Config) *Handle {
	return p.submit(path, cfg, true)
}

func (p *Pool) submit(path string, cfg waveform.Config, stream bool) *Handle {
	h := newHandle(uuid.NewString(), stream)

	fp, err := cache.Compute(path, cfg)
	if err == nil {
		err = cfg.Validate()
	}
	t := &task{h: h, fp: fp}
	if !p.do(func() { p.admit(t, path, cfg, stream, err) }) {
		h.resolve(nil, audio.WrapError(audio.KindCancelled, "pool.submit", path, ErrDisposed))
	}
	return h
}

func (p *Pool) admit(t *task, path string, cfg waveform.Config, stream bool, err error) {
	if err != nil {
		p.settle(t, nil, err)
		return
	}

	if p.cache != nil {
		if data, ok := p.cache.Get(t.fp); ok {
			p.log.Debug("cache hit", "task", t.h.id, "path", path)
			p.settle(t, data, nil)
			return
		}
	}

	p.tasks[t.h.id] = t
	if j, ok := p.jobs[t.fp]; ok {
		p.log.Debug("attaching to in-flight decode", "task", t.h.id, "request", j.requestID)
		t.j = j
		j.tasks = append(j.tasks, t)
		j.stream = j.stream || stream
		return
	}

	j := &job{
		fp:        t.fp,
		requestID: uuid.NewString(),
		path:      path,
		cfg:       cfg,
		stream:    stream,
		tasks:     []*task{t},
	}
	t.j = j
	p.jobs[j.fp] = j
	p.requests[j.requestID] = j
	p.waiting = append(p.waiting, j)
	p.promote()
	p.dispatch()
	p.gauge()
}

// promote admits waiting jobs, oldest first, while permits are free.
func (p *Pool) promote() {
	for len(p.waiting) > 0 && p.sem.TryAcquire(1) {
		j := p.waiting[0]
		p.waiting = p.waiting[1:]
		j.state = jobReady
		p.ready = append(p.ready, j)
	}
}

// dispatch hands ready jobs to idle units, spawning up to PoolSize.
func (p *Pool) dispatch() {
	for len(p.ready) > 0 {
		u := p.idleUnit()
		if u == nil {
			return
		}
		j := p.ready[0]
		p.ready = p.ready[1:]
		p.start(u, j)
	}
}

func (p *Pool) idleUnit() *unit {
	var best *unit
	for _, u := range p.units {
		if u.state == Idle && (best == nil || u.id < best.id) {
			best = u
		}
	}
	if best != nil || len(p.units) >= p.cfg.PoolSize {
		return best
	}
	return p.spawn()
}

func (p *Pool) spawn() *unit {
	p.nextUnit++
	u := &unit{
		id:         p.nextUnit,
		state:      Spawning,
		in:         make(chan []byte, mailboxSize),
		lastActive: p.now(),
	}
	p.units[u.id] = u

	w := &worker{
		id:       u.id,
		in:       u.in,
		out:      p.inbox,
		quit:     p.done,
		codec:    p.codec,
		proc:     p.proc,
		beat:     p.tickInterval(),
		log:      p.log.With("worker", u.id),
		wg:       &p.wg,
	}
	p.wg.Add(1)
	go w.run()

	u.state = Idle
	p.log.Debug("worker spawned", "worker", u.id)
	return u
}

func (p *Pool) start(u *unit, j *job) {
	req := &protocol.ProcessingRequest{
		Header:        protocol.Header{ID: j.requestID, Timestamp: p.now().UTC().Round(0)},
		FilePath:      j.path,
		Config:        j.cfg,
		StreamResults: j.stream,
	}
	b, err := p.codec.Marshal(req)
	if err != nil {
		p.finish(j, nil, err)
		return
	}

	j.state, j.u, j.started = jobRunning, u, p.now()
	u.state, u.job, u.lastActive = Busy, j, p.now()
	if !p.post(u, b) {
		p.crash(u, ErrWorkerUnreachable)
		return
	}
	p.log.Debug("dispatched", "request", j.requestID, "worker", u.id, "path", j.path)
}

// post queues b in u's mailbox without blocking the coordinator.
func (p *Pool) post(u *unit, b []byte) bool {
	select {
	case u.in <- b:
		return true
	default:
		return false
	}
}

// receive handles one message from a worker unit.
func (p *Pool) receive(r report) {
	u, ok := p.units[r.worker]
	if !ok {
		// Retired units may still be draining.
		return
	}
	u.lastActive = p.now()

	m, err := p.codec.Decode(r.frame)
	if err != nil {
		p.log.Error("malformed message from worker", "worker", u.id, "err", err)
		if j := u.job; j != nil {
			p.retire(u)
			p.finish(j, nil, err)
		}
		return
	}

	j := p.requests[protocol.RequestIDOf(m)]
	if j == nil || j.u != u {
		p.log.Debug("ignoring message for unknown request", "worker", u.id, "type", m.Type())
		return
	}

	switch m := m.(type) {
	case *protocol.ProgressUpdate:
		// Every update is a heartbeat; only streaming handles see
		// partials, and others track progress when reporting is on.
		for _, t := range j.tasks {
			switch {
			case t.h.events != nil:
				t.h.publish(Event{Progress: m.Progress, Status: m.Status, Partial: m.Partial})
			case p.cfg.EnableProgressReporting:
				t.h.publish(Event{Progress: m.Progress, Status: m.Status})
			}
		}
	case *protocol.ProcessingResponse:
		if !m.IsComplete {
			return
		}
		p.finish(j, m.Data, m.Error.Err())
	case *protocol.ErrorMessage:
		err := m.Err()
		if m.ErrorType == audio.KindCrashDetected {
			p.log.Error("worker crashed", "worker", u.id, "request", j.requestID, "err", m.Message, "stack", m.StackTrace)
			p.retire(u)
		}
		p.finish(j, nil, err)
	}
}

// finish ends job j, frees its worker and permit, and settles its tasks.
func (p *Pool) finish(j *job, data *waveform.Data, err error) {
	delete(p.requests, j.requestID)
	if p.jobs[j.fp] == j {
		delete(p.jobs, j.fp)
	}

	switch j.state {
	case jobWaiting:
		p.waiting = slices.DeleteFunc(p.waiting, func(o *job) bool { return o == j })
	case jobReady:
		p.ready = slices.DeleteFunc(p.ready, func(o *job) bool { return o == j })
		p.sem.Release(1)
	case jobRunning:
		p.sem.Release(1)
		took := p.now().Sub(j.started)
		p.m.duration.Observe(took.Seconds())
		if err == nil {
			p.counts.decodes++
			p.counts.decodeTime += took
		}
		if u := j.u; u != nil && u.job == j {
			u.job = nil
			if u.state == Busy {
				u.state = Idle
				u.lastActive = p.now()
			}
		}
	}

	if j.orphaned {
		p.log.Debug("cancelled decode finished", "request", j.requestID, "err", err)
	}
	if err == nil && data != nil && p.cache != nil {
		if perr := p.cache.Put(j.fp, data); perr != nil {
			p.log.Warn("result not cached", "path", j.path, "err", perr)
		}
	}
	for _, t := range j.tasks {
		p.settle(t, data, err)
	}
	j.tasks = nil

	p.promote()
	p.dispatch()
	p.gauge()
}

// settle resolves one task and counts its outcome.
func (p *Pool) settle(t *task, data *waveform.Data, err error) {
	delete(p.tasks, t.h.id)
	if !t.h.resolve(data, err) {
		return
	}
	outcome := outcomeCompleted
	switch {
	case err == nil:
		p.counts.completed++
	case audio.IsKind(err, audio.KindCancelled):
		outcome = outcomeCancelled
		p.counts.cancelled++
	case audio.IsKind(err, audio.KindCrashDetected):
		outcome = outcomeCrashed
		p.counts.crashed++
		p.counts.failed++
	default:
		outcome = outcomeFailed
		p.counts.failed++
	}
	p.m.tasks.WithLabelValues(outcome).Inc()
}

// Cancel stops the task id. A task still waiting for admission or a worker
// is removed at once; a running decode is asked to stop and gives up at
// its next chunk boundary. The handle is rejected with a Cancelled error
// before Cancel returns. Cancel reports false for unknown or finished
// tasks.
func (p *Pool) Cancel(id string) bool {
	var ok bool
	p.do(func() { ok = p.cancel(id) })
	return ok
}

func (p *Pool) cancel(id string) bool {
	t, ok := p.tasks[id]
	if !ok {
		return false
	}
	j := t.j
	j.tasks = slices.DeleteFunc(j.tasks, func(o *task) bool { return o == t })
	p.settle(t, nil, audio.NewError(audio.KindCancelled, "pool.cancel", "task %s cancelled", id))

	if len(j.tasks) > 0 {
		return true
	}
	if j.state != jobRunning {
		p.finish(j, nil, nil)
		return true
	}

	// The worker stays busy until it notices; its result, if any, still
	// goes to the cache.
	j.orphaned = true
	if p.jobs[j.fp] == j {
		delete(p.jobs, j.fp)
	}
	b, err := p.codec.Marshal(&protocol.CancellationRequest{Header: protocol.NewHeader(), RequestID: j.requestID})
	if err != nil || !p.post(j.u, b) {
		p.crash(j.u, ErrWorkerUnreachable)
	}
	return true
}

// CancelAll cancels every unfinished task and returns how many there were.
func (p *Pool) CancelAll() int {
	n := 0
	p.do(func() {
		ids := make([]string, 0, len(p.tasks))
		for id := range p.tasks {
			ids = append(ids, id)
		}
		for _, id := range ids {
			if p.cancel(id) {
				n++
			}
		}
	})
	return n
}

// checkLiveness declares busy units that stopped reporting crashed.
func (p *Pool) checkLiveness() {
	now := p.now()
	for _, u := range p.units {
		if u.state == Busy && now.Sub(u.lastActive) > p.cfg.WorkerLivenessTimeout {
			p.crash(u, ErrLivenessTimeout)
		}
	}
}

// crash retires u and fails its job with CrashDetected.
func (p *Pool) crash(u *unit, cause error) {
	j := u.job
	p.log.Error("worker declared crashed", "worker", u.id, "err", cause)
	p.retire(u)
	if j != nil {
		p.finish(j, nil, audio.WrapError(audio.KindCrashDetected, "pool.liveness", j.path,
			fmt.Errorf("worker %d: %w", u.id, cause)))
	}
}

// retire removes u from the table and closes its mailbox. Messages it
// sends afterwards are ignored.
func (p *Pool) retire(u *unit) {
	if u.state == Terminating {
		return
	}
	u.state = Terminating
	delete(p.units, u.id)
	close(u.in)
	p.log.Debug("worker retired", "worker", u.id)
	p.gauge()
}

// Optimization reports what OptimizeResources did.
type Optimization struct {
	RetiredWorkers int
	EvictedEntries int
	MemoryPercent  float64
}

// OptimizeResources retires workers idle past IdleWorkerTimeout and, when
// host memory use is above MemoryPressurePercent, shrinks the cache to half
// its ceiling.
func (p *Pool) OptimizeResources() Optimization {
	var o Optimization
	used, err := p.probe()
	if err != nil {
		p.log.Debug("memory probe failed", "err", err)
	}
	o.MemoryPercent = used

	p.do(func() {
		now := p.now()
		for _, u := range p.units {
			if u.state == Idle && now.Sub(u.lastActive) > p.cfg.IdleWorkerTimeout {
				p.retire(u)
				o.RetiredWorkers++
			}
		}
		if p.cache != nil && err == nil && used > p.cfg.MemoryPressurePercent {
			o.EvictedEntries = p.cache.Shrink(p.cache.MaxBytes() / 2)
		}
	})
	if o.RetiredWorkers > 0 || o.EvictedEntries > 0 {
		p.log.Info("resources optimized", "retired", o.RetiredWorkers, "evicted", o.EvictedEntries, "mem_percent", used)
	}
	return o
}

// Dispose cancels every task, terminates every worker, releases the cache
// and the codec library. Later calls do nothing.
func (p *Pool) Dispose() {
	p.disposeOnce.Do(func() {
		p.do(func() {
			for id := range p.tasks {
				p.cancel(id)
			}
			for _, u := range p.units {
				p.retire(u)
			}
			p.waiting, p.ready = nil, nil
			p.final = p.snapshot()
			if p.cache != nil {
				p.cache.Purge()
			}
			p.disposed = true
		})
		<-p.done

		waited := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(p.cfg.WorkerLivenessTimeout):
			p.log.Warn("workers still running after dispose")
		}
		p.lib.Release()
		p.log.Debug("pool disposed")
	})
}

func (p *Pool) gauge() {
	busy := 0
	for _, u := range p.units {
		if u.state == Busy {
			busy++
		}
	}
	p.m.workers.Set(float64(len(p.units)))
	p.m.busy.Set(float64(busy))
	p.m.queued.Set(float64(len(p.waiting) + len(p.ready)))
}
