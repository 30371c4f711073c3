// SPDX-License-Identifier: EPL-2.0

package waveform

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ik5/audwave/audio"
)

// DefaultBins is the bin capacity per output value used by NewAccumulator
// when capacity is not given.
const DefaultBins = 8

// bin summarises a run of consecutive frames.
type bin struct {
	count  int64
	sumSq  float64
	sumAbs float64
	peak   float64
	median float64
}

func (b bin) merge(o bin) bin {
	total := b.count + o.count
	out := bin{
		count:  total,
		sumSq:  b.sumSq + o.sumSq,
		sumAbs: b.sumAbs + o.sumAbs,
		peak:   max(b.peak, o.peak),
	}
	if total > 0 {
		out.median = (b.median*float64(b.count) + o.median*float64(o.count)) / float64(total)
	}
	return out
}

// Accumulator builds a waveform from a stream of unknown length in bounded
// memory. Frames are summarised into at most capacity bins of span frames
// each; when the bins fill up, neighbours are merged pairwise and the span
// doubles.
//
// While no merge has happened the result equals Generate on the same
// samples. After merges rms, peak and average stay exact at bin granularity
// and median is approximated by a count-weighted mean of bin medians.
type Accumulator struct {
	cfg      Config
	channels int
	capacity int

	bins   []bin
	span   int64
	cur    bin
	curAbs []float64 // magnitudes of the open bin, median only

	carry  []float32 // partial frame from the previous Add
	mixed  []float32
	frames int64
}

// NewAccumulator returns an Accumulator for interleaved input with the
// given channel count. capacity bounds the number of bins; values below
// the resolution are raised to DefaultBins·Resolution.
func NewAccumulator(cfg Config, channels, capacity int) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if capacity < cfg.Resolution {
		capacity = DefaultBins * cfg.Resolution
	}
	// Pairwise merging needs an even capacity.
	capacity += capacity % 2
	return &Accumulator{
		cfg:      cfg,
		channels: max(channels, 1),
		capacity: capacity,
		bins:     make([]bin, 0, capacity),
		span:     1,
	}, nil
}

// Frames is the number of whole frames consumed.
func (a *Accumulator) Frames() int64 { return a.frames }

// Add consumes interleaved samples. A trailing partial frame is kept for the
// next call.
func (a *Accumulator) Add(samples []float32) {
	if a.channels == 1 {
		a.addMono(samples)
		return
	}

	if len(a.carry) > 0 {
		need := a.channels - len(a.carry)
		if len(samples) < need {
			a.carry = append(a.carry, samples...)
			return
		}
		a.carry = append(a.carry, samples[:need]...)
		samples = samples[need:]
		var m [1]float32
		audio.MixFrames(m[:], a.carry, a.channels)
		a.addMono(m[:])
		a.carry = a.carry[:0]
	}

	whole := len(samples) - len(samples)%a.channels
	if cap(a.mixed) < whole/a.channels {
		a.mixed = make([]float32, whole/a.channels)
	}
	n := audio.MixFrames(a.mixed[:whole/a.channels], samples[:whole], a.channels)
	a.addMono(a.mixed[:n])
	a.carry = append(a.carry, samples[whole:]...)
}

func (a *Accumulator) addMono(mono []float32) {
	median := a.cfg.Algorithm == AlgorithmMedian
	for _, s := range mono {
		v := math.Abs(float64(s))
		a.cur.count++
		a.cur.sumSq += v * v
		a.cur.sumAbs += v
		a.cur.peak = max(a.cur.peak, v)
		if median {
			a.curAbs = append(a.curAbs, v)
		}
		if a.cur.count == a.span {
			a.closeBin()
		}
	}
	a.frames += int64(len(mono))
}

func (a *Accumulator) closeBin() {
	if a.cur.count == 0 {
		return
	}
	if len(a.curAbs) > 0 {
		a.cur.median = median(a.curAbs)
		a.curAbs = a.curAbs[:0]
	}
	a.bins = append(a.bins, a.cur)
	a.cur = bin{}
	if len(a.bins) == a.capacity {
		for i := range a.capacity / 2 {
			a.bins[i] = a.bins[2*i].merge(a.bins[2*i+1])
		}
		a.bins = a.bins[:a.capacity/2]
		a.span *= 2
	}
}

// Amplitudes returns the finished amplitudes for everything consumed so
// far. It may be called repeatedly; the Accumulator keeps accepting input.
func (a *Accumulator) Amplitudes() []float64 {
	bins := a.bins
	if a.cur.count > 0 {
		open := a.cur
		if len(a.curAbs) > 0 {
			open.median = median(append([]float64(nil), a.curAbs...))
		}
		bins = append(bins[:len(bins):len(bins)], open)
	}

	r := a.cfg.Resolution
	values := make([]float64, r)
	n := len(bins)
	if n > 0 {
		var medians, weights []float64
		for i := range values {
			lo := i * n / r
			hi := (i + 1) * n / r
			if hi <= lo {
				hi = lo + 1
			}
			var acc bin
			medians, weights = medians[:0], weights[:0]
			for _, b := range bins[lo:hi] {
				acc = acc.merge(b)
				medians = append(medians, b.median)
				weights = append(weights, float64(b.count))
			}
			values[i] = a.value(acc, medians, weights)
		}
	}
	return Finish(values, a.cfg)
}

func (a *Accumulator) value(acc bin, medians, weights []float64) float64 {
	if acc.count == 0 {
		return 0
	}
	switch a.cfg.Algorithm {
	case AlgorithmPeak:
		return acc.peak
	case AlgorithmAverage:
		return acc.sumAbs / float64(acc.count)
	case AlgorithmMedian:
		if a.span == 1 {
			return median(medians)
		}
		return stat.Mean(medians, weights)
	default:
		return math.Sqrt(acc.sumSq / float64(acc.count))
	}
}

// Data wraps the current amplitudes with metadata.
func (a *Accumulator) Data(sampleRate int) *Data {
	return &Data{
		Amplitudes: a.Amplitudes(),
		DurationMs: durationMs(a.frames, sampleRate),
		SampleRate: sampleRate,
		Metadata:   metadata(a.cfg),
	}
}
