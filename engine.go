// SPDX-License-Identifier: EPL-2.0

package audwave

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/config"
	"github.com/ik5/audwave/pool"
	"github.com/ik5/audwave/waveform"
)

// Engine is the public face of the waveform generator. It is safe for
// concurrent use.
type Engine struct {
	cfg  config.Config
	log  *log.Logger
	pool *pool.Pool
}

type options struct {
	log  *log.Logger
	pool []pool.Option
}

// Option configures an Engine.
type Option func(*options)

// WithLogger replaces the logger built from Config.LogLevel.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer exports the engine metrics through reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.pool = append(o.pool, pool.WithRegisterer(reg)) }
}

// WithLibrary decodes through lib instead of the process-wide library.
func WithLibrary(lib *codec.Library) Option {
	return func(o *options) { o.pool = append(o.pool, pool.WithLibrary(lib)) }
}

// WithProcessor replaces the decoder run by the worker units.
func WithProcessor(p pool.Processor) Option {
	return func(o *options) { o.pool = append(o.pool, pool.WithProcessor(p)) }
}

// New validates cfg and starts an Engine. Call Dispose when done.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = cfg.NewLogger(os.Stderr)
	}

	p, err := pool.New(cfg, append([]pool.Option{pool.WithLogger(o.log.With("component", "pool"))}, o.pool...)...)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, log: o.log, pool: p}, nil
}

// Open is New with the configuration loaded from a YAML file.
func Open(path string, opts ...Option) (*Engine, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Config returns the configuration the engine runs with.
func (e *Engine) Config() config.Config { return e.cfg }

func (e *Engine) waveform(cfg waveform.Config) waveform.Config {
	if cfg == (waveform.Config{}) {
		return e.cfg.Waveform
	}
	return cfg
}

// Submit queues path and returns its handle at once. A zero cfg selects
// Config.Waveform.
func (e *Engine) Submit(path string, cfg waveform.Config) *pool.Handle {
	return e.pool.Submit(path, e.waveform(cfg))
}

// Generate returns the waveform of path. When ctx ends first the task is
// cancelled and a Cancelled error returned. A zero cfg selects
// Config.Waveform.
func (e *Engine) Generate(ctx context.Context, path string, cfg waveform.Config) (*waveform.Data, error) {
	h := e.Submit(path, cfg)
	data, err := h.Wait(ctx)
	if ctx.Err() != nil {
		select {
		case <-h.Done():
			return h.Result()
		default:
		}
		e.pool.Cancel(h.ID())
	}
	return data, err
}

// GenerateStreaming starts generating path and returns a handle whose
// Events channel reports progress, provisional amplitudes and finally the
// result. The sequence is finite and cannot be restarted. Ending ctx
// cancels the task.
func (e *Engine) GenerateStreaming(ctx context.Context, path string, cfg waveform.Config) *pool.Handle {
	h := e.pool.SubmitStreaming(path, e.waveform(cfg))
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.pool.Cancel(h.ID())
			case <-h.Done():
			}
		}()
	}
	return h
}

// Cancel stops the task id. It reports false when the task is unknown or
// already finished, so a second call for the same task returns false.
func (e *Engine) Cancel(id string) bool { return e.pool.Cancel(id) }

// CancelAll cancels every unfinished task and returns how many there were.
func (e *Engine) CancelAll() int { return e.pool.CancelAll() }

// ResourceStatistics reports worker, task and cache activity.
func (e *Engine) ResourceStatistics() pool.Stats { return e.pool.Statistics() }

// OptimizeResources retires idle workers and shrinks the cache under
// memory pressure. The engine also does this periodically.
func (e *Engine) OptimizeResources() pool.Optimization { return e.pool.OptimizeResources() }

// Dispose cancels all tasks, stops every worker and releases the cache and
// the codec library. It is safe to call more than once.
func (e *Engine) Dispose() {
	e.pool.Dispose()
	e.log.Debug("engine disposed")
}
