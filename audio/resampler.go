// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"fmt"
	"io"
	"math"

	"github.com/ik5/audwave/utils"
)

// Resampler converts a Source to another sample rate for amplitude analysis.
//
// Downsampling is peak-hold decimation: each output frame carries, per
// channel, the source sample with the largest magnitude inside its period, so
// peaks survive and envelope statistics stay close to the original.
// Upsampling uses cubic interpolation. Equal rates pass through.
type Resampler struct {
	src      Source
	srcRate  int
	dstRate  int
	ratio    float64 // source frames per output frame
	channels int

	buf    []float32
	bufPos int
	bufLen int
	eof    bool
	err    error

	consumed int64 // source frames consumed so far
	emitted  int64 // output frames produced so far

	// Cubic window: frames[1] is source frame winIdx.
	frames  [4][]float32
	winIdx  int64
	primed  bool
	tailing int // frames duplicated past EOF

	peak []float32
}

func NewResampler(src Source, dstRate int) *Resampler {
	channels := max(src.Channels(), 1)
	r := &Resampler{
		src:      src,
		srcRate:  src.SampleRate(),
		dstRate:  dstRate,
		ratio:    float64(src.SampleRate()) / float64(dstRate),
		channels: channels,
		buf:      make([]float32, 4096*channels),
		peak:     make([]float32, channels),
	}
	for i := range r.frames {
		r.frames[i] = make([]float32, channels)
	}
	return r
}

func (r *Resampler) SampleRate() int { return r.dstRate }
func (r *Resampler) Channels() int   { return r.channels }
func (r *Resampler) BufSize() int    { return r.src.BufSize() }

func (r *Resampler) Close() error {
	if err := r.src.Close(); err != nil {
		return fmt.Errorf("closing resampler source: %w", err)
	}
	return nil
}

// nextFrame returns a view of the next source frame, valid until the next call.
func (r *Resampler) nextFrame() ([]float32, bool, error) {
	for r.bufLen-r.bufPos < r.channels {
		if r.eof {
			return nil, false, r.err
		}
		n, err := r.src.ReadSamples(r.buf)
		r.bufPos, r.bufLen = 0, n-n%r.channels
		if err == io.EOF {
			r.eof = true
		} else if err != nil {
			r.eof = true
			r.err = fmt.Errorf("reading resampler source: %w", err)
		}
	}
	f := r.buf[r.bufPos : r.bufPos+r.channels]
	r.bufPos += r.channels
	r.consumed++
	return f, true, nil
}

func (r *Resampler) ReadSamples(dst []float32) (int, error) {
	if len(dst)%r.channels != 0 {
		return 0, ErrInvalidDstSize
	}
	if r.srcRate == r.dstRate {
		return r.src.ReadSamples(dst)
	}
	if r.ratio > 1 {
		return r.decimate(dst)
	}
	return r.interpolate(dst)
}

func (r *Resampler) decimate(dst []float32) (int, error) {
	written := 0
	for written+r.channels <= len(dst) {
		end := int64(math.Floor(float64(r.emitted+1) * r.ratio))
		got := false
		clear(r.peak)
		for r.consumed < end {
			f, ok, err := r.nextFrame()
			if err != nil {
				return written, err
			}
			if !ok {
				break
			}
			got = true
			utils.HoldPeak(r.peak, f)
		}
		if !got {
			if written == 0 {
				return 0, io.EOF
			}
			return written, io.EOF
		}
		copy(dst[written:], r.peak)
		written += r.channels
		r.emitted++
	}
	return written, nil
}

func (r *Resampler) interpolate(dst []float32) (int, error) {
	if !r.primed {
		f, ok, err := r.nextFrame()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, io.EOF
		}
		copy(r.frames[0], f)
		copy(r.frames[1], f)
		for i := 2; i < 4; i++ {
			if err := r.pushInto(i); err != nil {
				return 0, err
			}
		}
		r.primed = true
	}

	written := 0
	for written+r.channels <= len(dst) {
		pos := float64(r.emitted) * r.ratio
		idx := int64(pos)
		for r.winIdx < idx {
			copy(r.frames[0], r.frames[1])
			copy(r.frames[1], r.frames[2])
			copy(r.frames[2], r.frames[3])
			r.winIdx++
			if err := r.pushInto(3); err != nil {
				return written, err
			}
		}
		if r.tailing >= 3 {
			if written == 0 {
				return 0, io.EOF
			}
			return written, io.EOF
		}
		x := float32(pos - float64(idx))
		for c := range r.channels {
			dst[written+c] = utils.CubicInterpolate(r.frames[0][c], r.frames[1][c], r.frames[2][c], r.frames[3][c], x)
		}
		written += r.channels
		r.emitted++
	}
	return written, nil
}

// pushInto loads the next source frame into window slot i, duplicating the
// previous slot once the source is exhausted.
func (r *Resampler) pushInto(i int) error {
	f, ok, err := r.nextFrame()
	if err != nil {
		return err
	}
	if !ok {
		copy(r.frames[i], r.frames[i-1])
		r.tailing++
		return nil
	}
	copy(r.frames[i], f)
	return nil
}
