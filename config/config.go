// SPDX-License-Identifier: EPL-2.0

// Package config holds the engine tunables and loads them from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// Config is immutable once handed to the engine.
type Config struct {
	// MaxConcurrentOperations bounds running plus queued-for-a-worker tasks.
	// Submissions beyond it wait.
	MaxConcurrentOperations int `yaml:"max_concurrent_operations"`
	// PoolSize bounds the number of worker units.
	PoolSize int `yaml:"pool_size"`
	// MaxMemoryUsage is the result cache ceiling in bytes.
	MaxMemoryUsage int64 `yaml:"max_memory_usage"`
	EnableCaching  bool  `yaml:"enable_caching"`
	// EnableProgressReporting records progress on non-streaming handles
	// too. Streaming handles always receive it.
	EnableProgressReporting bool `yaml:"enable_progress_reporting"`
	// IdleWorkerTimeout retires workers idle for longer.
	IdleWorkerTimeout time.Duration `yaml:"idle_worker_timeout"`
	// ChunkThreshold is the file size above which the chunked pipeline is
	// used instead of a whole-file decode.
	ChunkThreshold int64 `yaml:"chunk_threshold"`
	// WorkerLivenessTimeout declares a busy worker crashed when it has been
	// silent for longer.
	WorkerLivenessTimeout time.Duration `yaml:"worker_liveness_timeout"`
	// AnalysisSampleRate resamples whole-file decodes before analysis.
	// Zero keeps the source rate.
	AnalysisSampleRate int `yaml:"analysis_sample_rate"`
	// MemoryPressurePercent is the host memory use above which the cache is
	// halved by OptimizeResources.
	MemoryPressurePercent float64 `yaml:"memory_pressure_percent"`
	// CompressMessages zstd-compresses large binary worker messages.
	CompressMessages bool   `yaml:"compress_messages"`
	LogLevel         string `yaml:"log_level"`

	// Waveform is the request configuration used when none is given.
	Waveform waveform.Config `yaml:"waveform"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		MaxConcurrentOperations: 3,
		PoolSize:                2,
		MaxMemoryUsage:          100 << 20,
		EnableCaching:           true,
		EnableProgressReporting: true,
		IdleWorkerTimeout:       5 * time.Minute,
		ChunkThreshold:          50 << 20,
		WorkerLivenessTimeout:   30 * time.Second,
		MemoryPressurePercent:   85,
		CompressMessages:        true,
		LogLevel:                "info",
		Waveform:                waveform.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, audio.WrapError(audio.KindConfiguration, "config.load", path, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads YAML from r over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	const op = "config.parse"

	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, audio.WrapError(audio.KindConfiguration, op, "", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseBytes is Parse over b.
func ParseBytes(b []byte) (Config, error) {
	return Parse(bytes.NewReader(b))
}

// Validate reports the first illegal field as a configuration error.
func (c Config) Validate() error {
	const op = "config.validate"

	invalid := func(format string, args ...any) error {
		return audio.NewError(audio.KindConfiguration, op, format, args...)
	}

	switch {
	case c.MaxConcurrentOperations <= 0:
		return invalid("max_concurrent_operations must be positive, got %d", c.MaxConcurrentOperations)
	case c.PoolSize <= 0:
		return invalid("pool_size must be positive, got %d", c.PoolSize)
	case c.PoolSize > c.MaxConcurrentOperations:
		return invalid("pool_size %d exceeds max_concurrent_operations %d", c.PoolSize, c.MaxConcurrentOperations)
	case c.MaxMemoryUsage <= 0:
		return invalid("max_memory_usage must be positive, got %d", c.MaxMemoryUsage)
	case c.IdleWorkerTimeout <= 0:
		return invalid("idle_worker_timeout must be positive, got %v", c.IdleWorkerTimeout)
	case c.ChunkThreshold < 0:
		return invalid("chunk_threshold must not be negative, got %d", c.ChunkThreshold)
	case c.WorkerLivenessTimeout <= 0:
		return invalid("worker_liveness_timeout must be positive, got %v", c.WorkerLivenessTimeout)
	case c.AnalysisSampleRate != 0 && (c.AnalysisSampleRate < 1000 || c.AnalysisSampleRate > 384000):
		return invalid("analysis_sample_rate %d outside [1000, 384000]", c.AnalysisSampleRate)
	case c.MemoryPressurePercent <= 0 || c.MemoryPressurePercent > 100:
		return invalid("memory_pressure_percent %v outside (0, 100]", c.MemoryPressurePercent)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level %q: %v", c.LogLevel, err)
	}
	if err := c.Waveform.Validate(); err != nil {
		return fmt.Errorf("waveform: %w", err)
	}
	return nil
}

// Level is LogLevel as a log.Level; invalid names fall back to info.
func (c Config) Level() log.Level {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// NewLogger builds the engine logger writing to w.
func (c Config) NewLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           c.Level(),
		Prefix:          "audwave",
		ReportTimestamp: true,
	})
}
