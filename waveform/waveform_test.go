// SPDX-License-Identifier: EPL-2.0

package waveform

import (
	"math"
	"strings"
	"testing"

	"github.com/ik5/audwave/audio"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func raw(r int) Config {
	cfg := DefaultConfig()
	cfg.Resolution = r
	cfg.Normalize = false
	return cfg
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i)*0.01)) * float32(i%97) / 97
	}
	return out
}

func TestGenerate_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		samples    int
		resolution int
	}{
		{"single", 1000, 1},
		{"uneven", 1000, 7},
		{"more buckets than samples", 10, 1000},
		{"empty input", 0, 50},
		{"exact", 4096, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := Generate(ramp(tt.samples), 8000, 1, raw(tt.resolution))
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if len(d.Amplitudes) != tt.resolution {
				t.Errorf("len(Amplitudes) = %d, want %d", len(d.Amplitudes), tt.resolution)
			}
			if d.Metadata.Resolution != tt.resolution {
				t.Errorf("Metadata.Resolution = %d", d.Metadata.Resolution)
			}
		})
	}
}

func TestGenerate_Algorithms(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, -0.2, 0.9, -0.3}
	tests := []struct {
		alg  Algorithm
		want float64
	}{
		{AlgorithmRMS, math.Sqrt((0.01 + 0.04 + 0.81 + 0.09) / 4)},
		{AlgorithmPeak, 0.9},
		{AlgorithmAverage, 0.375},
		{AlgorithmMedian, 0.25},
	}
	for _, tt := range tests {
		cfg := raw(1)
		cfg.Algorithm = tt.alg
		d, err := Generate(samples, 4, 1, cfg)
		if err != nil {
			t.Fatal(err)
		}
		// float32 inputs carry rounding error into the float64 result.
		if math.Abs(d.Amplitudes[0]-tt.want) > 1e-6 {
			t.Errorf("%s = %v, want %v", tt.alg, d.Amplitudes[0], tt.want)
		}
		if d.Metadata.Algorithm != tt.alg {
			t.Errorf("Metadata.Algorithm = %q", d.Metadata.Algorithm)
		}
	}
}

func TestGenerate_StereoMix(t *testing.T) {
	t.Parallel()

	cfg := raw(2)
	cfg.Algorithm = AlgorithmPeak
	// Left and right cancel in the first half.
	d, err := Generate([]float32{1, -1, 0.5, -0.5, 0.5, 0.5, 0.25, 0.25}, 2, 2, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if d.Amplitudes[0] != 0 || d.Amplitudes[1] != 0.5 {
		t.Errorf("Amplitudes = %v, want [0 0.5]", d.Amplitudes)
	}
	if d.DurationMs != 2000 {
		t.Errorf("DurationMs = %d, want 2000", d.DurationMs)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	peak := DefaultConfig()
	peak.Resolution = 4
	d, _ := Generate([]float32{0.1, 0.2, 0.4, 0.2}, 4, 1, peak)
	if d.Amplitudes[2] != 1 || !near(d.Amplitudes[0], 0.25) {
		t.Errorf("peak normalised = %v", d.Amplitudes)
	}
	if !d.Metadata.Normalized {
		t.Error("Metadata.Normalized = false")
	}

	rms := peak
	rms.Resolution = 8
	rms.NormalizationMethod = NormalizeRMS
	d, _ = Generate([]float32{0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.9}, 8, 1, rms)
	for _, v := range d.Amplitudes {
		if v > 1 {
			t.Errorf("rms normalised value %v above 1", v)
		}
	}
	if d.Amplitudes[7] != 1 {
		t.Errorf("loud bucket = %v, want clamped to 1", d.Amplitudes[7])
	}

	even := []float64{0.2, 0.2, 0.2, 0.2}
	normalize(even, NormalizeRMS)
	if !near(even[0], 0.5) {
		t.Errorf("uniform rms normalised = %v, want 0.5", even[0])
	}

	d, _ = Generate(make([]float32, 64), 4, 1, peak)
	for _, v := range d.Amplitudes {
		if v != 0 {
			t.Fatalf("silence normalised to %v", d.Amplitudes)
		}
	}
}

func TestScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		curve Curve
		in    float64
		want  float64
	}{
		{CurveLinear, 0.25, 0.5},
		{CurveSqrt, 0.25, 1},
		{CurveLog, 1, 2},
		{CurveLog, 0.25, 2 * math.Log10(3.25)},
		{CurveExp, 1, 2},
		{CurveExp, 0.25, 2 * (math.Exp(0.25) - 1) / (math.E - 1)},
		{CurveExp, 0, 0},
	}
	for _, tt := range tests {
		v := []float64{tt.in}
		scale(v, tt.curve, 2)
		if !near(v[0], tt.want) {
			t.Errorf("scale(%v, %s) = %v, want %v", tt.in, tt.curve, v[0], tt.want)
		}
	}
}

func TestSmooth(t *testing.T) {
	t.Parallel()

	got := smooth([]float64{0, 0, 3, 0, 0}, 3)
	want := []float64{0, 1, 1, 1, 0}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("smooth() = %v, want %v", got, want)
		}
	}

	got = smooth([]float64{6, 0, 0, 0}, 5)
	if !near(got[0], 2) || !near(got[3], 0) || !near(got[1], 1.5) {
		t.Errorf("truncated edges = %v", got)
	}

	cfg := raw(1)
	cfg.Smoothing = true
	if d, _ := Generate([]float32{0.5}, 1, 1, cfg); d.Amplitudes[0] != 0.5 {
		t.Errorf("single value smoothed to %v", d.Amplitudes[0])
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero resolution", func(c *Config) { c.Resolution = 0 }, "resolution"},
		{"type", func(c *Config) { c.Type = "dots" }, "type"},
		{"algorithm", func(c *Config) { c.Algorithm = "mode" }, "algorithm"},
		{"normalization", func(c *Config) { c.NormalizationMethod = "lufs" }, "normalization"},
		{"curve", func(c *Config) { c.ScalingCurve = "cubic" }, "curve"},
		{"negative factor", func(c *Config) { c.ScalingFactor = -1 }, "scaling factor"},
		{"nan factor", func(c *Config) { c.ScalingFactor = math.NaN() }, "scaling factor"},
		{"even window", func(c *Config) { c.SmoothingWindow = 4 }, "smoothing window"},
		{"small window", func(c *Config) { c.SmoothingWindow = 1 }, "smoothing window"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if !audio.IsKind(err, audio.KindConfiguration) {
			t.Errorf("%s: Validate() error = %v, want configuration error", tt.name, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.field) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.field)
		}
		if _, err := Generate(nil, 1, 1, cfg); err == nil {
			t.Errorf("%s: Generate() accepted invalid config", tt.name)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestConfig_Canonical(t *testing.T) {
	t.Parallel()

	a, b := DefaultConfig(), DefaultConfig()
	b.SmoothingWindow = 9 // ignored while smoothing is off
	if a.Canonical() != b.Canonical() {
		t.Errorf("Canonical() differs: %q vs %q", a.Canonical(), b.Canonical())
	}
	b.Smoothing = true
	if a.Canonical() == b.Canonical() {
		t.Error("Canonical() ignores smoothing")
	}
	c := DefaultConfig()
	c.ScalingFactor = 1.5
	if !strings.Contains(c.Canonical(), "factor=1.5;") {
		t.Errorf("Canonical() = %q", c.Canonical())
	}
}

func TestAccumulator_MatchesGenerate(t *testing.T) {
	t.Parallel()

	samples := ramp(2 * 3001) // stereo
	for _, alg := range []Algorithm{AlgorithmRMS, AlgorithmPeak, AlgorithmAverage, AlgorithmMedian} {
		cfg := DefaultConfig()
		cfg.Resolution = 100
		cfg.Algorithm = alg
		cfg.Smoothing = true

		want, err := Generate(samples, 8000, 2, cfg)
		if err != nil {
			t.Fatal(err)
		}

		acc, err := NewAccumulator(cfg, 2, 8000)
		if err != nil {
			t.Fatal(err)
		}
		// Odd chunk sizes split frames across calls.
		for rest := samples; len(rest) > 0; {
			n := min(333, len(rest))
			acc.Add(rest[:n])
			rest = rest[n:]
		}
		if acc.Frames() != 3001 {
			t.Fatalf("Frames() = %d, want 3001", acc.Frames())
		}
		got := acc.Data(8000)
		for i := range want.Amplitudes {
			if math.Abs(got.Amplitudes[i]-want.Amplitudes[i]) > 1e-6 {
				t.Fatalf("%s: bucket %d = %v, want %v", alg, i, got.Amplitudes[i], want.Amplitudes[i])
			}
		}
		if got.DurationMs != want.DurationMs {
			t.Errorf("DurationMs = %d, want %d", got.DurationMs, want.DurationMs)
		}
	}
}

func TestAccumulator_Bounded(t *testing.T) {
	t.Parallel()

	cfg := raw(10)
	cfg.Algorithm = AlgorithmPeak
	acc, err := NewAccumulator(cfg, 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	chunk := make([]float32, 1000)
	for i := range 100 {
		if i == 95 {
			chunk[500] = 0.8
		}
		acc.Add(chunk)
		chunk[500] = 0
		if len(acc.bins) >= acc.capacity {
			t.Fatalf("bins = %d, capacity %d", len(acc.bins), acc.capacity)
		}
	}
	if acc.capacity != DefaultBins*10 {
		t.Errorf("capacity = %d", acc.capacity)
	}

	amps := acc.Amplitudes()
	if len(amps) != 10 {
		t.Fatalf("len = %d", len(amps))
	}
	if !near(amps[9], float64(float32(0.8))) {
		t.Errorf("spike lost after merges: %v", amps)
	}
	for _, v := range amps[:9] {
		if v != 0 {
			t.Errorf("silent bucket = %v", v)
		}
	}

	// Partial results do not disturb further input.
	acc.Add(make([]float32, 10))
	if acc.Frames() != 100010 {
		t.Errorf("Frames() = %d", acc.Frames())
	}
}

func TestAccumulator_Empty(t *testing.T) {
	t.Parallel()

	acc, err := NewAccumulator(raw(5), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := acc.Amplitudes(); len(got) != 5 || got[0] != 0 {
		t.Errorf("Amplitudes() = %v", got)
	}

	if _, err := NewAccumulator(Config{}, 1, 0); !audio.IsKind(err, audio.KindConfiguration) {
		t.Errorf("NewAccumulator(zero) error = %v", err)
	}
}

func TestData(t *testing.T) {
	t.Parallel()

	d, _ := Generate(ramp(100), 50, 1, raw(10))
	if d.SizeBytes() != 8*10+256 {
		t.Errorf("SizeBytes() = %d", d.SizeBytes())
	}
	if d.Duration().Milliseconds() != 2000 {
		t.Errorf("Duration() = %v", d.Duration())
	}

	cp := *d
	cp.Amplitudes = append([]float64(nil), d.Amplitudes...)
	if !d.Equal(&cp) {
		t.Error("Equal() false for a copy")
	}
	cp.Amplitudes[3]++
	if d.Equal(&cp) || d.Equal(nil) {
		t.Error("Equal() true for different data")
	}
}

func BenchmarkGenerate(b *testing.B) {
	samples := ramp(44100 * 2 * 30)
	cfg := DefaultConfig()
	b.ReportAllocs()
	for b.Loop() {
		_, _ = Generate(samples, 44100, 2, cfg)
	}
}

func BenchmarkAccumulator(b *testing.B) {
	samples := ramp(44100 * 2)
	cfg := DefaultConfig()
	b.ReportAllocs()
	for b.Loop() {
		acc, _ := NewAccumulator(cfg, 2, 0)
		for range 30 {
			acc.Add(samples)
		}
		_ = acc.Amplitudes()
	}
}
