// SPDX-License-Identifier: EPL-2.0

package waveform

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ik5/audwave/audio"
)

// Generate builds a waveform from interleaved samples. Channels are averaged
// to mono, then the stream is split into exactly cfg.Resolution buckets: bucket
// i covers frames [i·n/R, (i+1)·n/R). When there are fewer frames than
// buckets, each bucket takes the nearest frame. An empty input yields
// Resolution zeros.
func Generate(samples []float32, sampleRate, channels int, cfg Config) (*Data, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	channels = max(channels, 1)

	mono := samples
	if channels > 1 {
		mono = make([]float32, len(samples)/channels)
		audio.MixFrames(mono, samples, channels)
	}

	values := make([]float64, cfg.Resolution)
	n := len(mono)
	if n > 0 {
		scratch := make([]float64, 0, n/cfg.Resolution+1)
		for i := range values {
			lo := i * n / cfg.Resolution
			hi := (i + 1) * n / cfg.Resolution
			if hi <= lo {
				hi = lo + 1
			}
			scratch = absInto(scratch[:0], mono[lo:hi])
			values[i] = reduce(scratch, cfg.Algorithm)
		}
	}

	return &Data{
		Amplitudes: Finish(values, cfg),
		DurationMs: durationMs(int64(n), sampleRate),
		SampleRate: sampleRate,
		Metadata:   metadata(cfg),
	}, nil
}

func metadata(cfg Config) Metadata {
	return Metadata{
		Resolution:  cfg.Resolution,
		Type:        cfg.Type,
		Normalized:  cfg.Normalize,
		GeneratedAt: time.Now().UTC().Round(0),
		Algorithm:   cfg.Algorithm,
	}
}

func absInto(dst []float64, src []float32) []float64 {
	for _, v := range src {
		dst = append(dst, math.Abs(float64(v)))
	}
	return dst
}

// reduce collapses the magnitudes of one bucket. abs may be reordered.
func reduce(abs []float64, alg Algorithm) float64 {
	if len(abs) == 0 {
		return 0
	}
	switch alg {
	case AlgorithmPeak:
		return floats.Max(abs)
	case AlgorithmAverage:
		return stat.Mean(abs, nil)
	case AlgorithmMedian:
		return median(abs)
	default:
		return math.Sqrt(floats.Dot(abs, abs) / float64(len(abs)))
	}
}

func median(v []float64) float64 {
	slices.Sort(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// Finish runs the smoothing, normalisation and scaling stages over raw
// bucket values in place and returns them.
func Finish(values []float64, cfg Config) []float64 {
	if cfg.Smoothing && len(values) > 1 {
		values = smooth(values, cfg.SmoothingWindow)
	}
	if cfg.Normalize {
		normalize(values, cfg.NormalizationMethod)
	}
	scale(values, cfg.ScalingCurve, cfg.ScalingFactor)
	return values
}

// smooth applies a centred moving average. Near the edges the window is
// truncated to the values that exist.
func smooth(values []float64, window int) []float64 {
	half := window / 2
	prefix := make([]float64, len(values)+1)
	floats.CumSum(prefix[1:], values)

	out := make([]float64, len(values))
	for i := range values {
		lo := max(i-half, 0)
		hi := min(i+half+1, len(values))
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

func normalize(values []float64, method Normalization) {
	if len(values) == 0 {
		return
	}
	switch method {
	case NormalizeRMS:
		rms := math.Sqrt(floats.Dot(values, values) / float64(len(values)))
		if rms == 0 {
			return
		}
		floats.Scale(0.5/rms, values)
		for i, v := range values {
			values[i] = min(v, 1)
		}
	default:
		peak := floats.Max(values)
		if peak == 0 {
			return
		}
		for i, v := range values {
			values[i] = v / peak
		}
	}
}

func scale(values []float64, curve Curve, factor float64) {
	for i, v := range values {
		switch curve {
		case CurveSqrt:
			v = math.Sqrt(v)
		case CurveLog:
			v = math.Log10(1 + 9*v)
		case CurveExp:
			v = (math.Exp(v) - 1) / (math.E - 1)
		}
		values[i] = v * factor
	}
}
