// SPDX-License-Identifier: EPL-2.0

package audiotest

import (
	"io"
)

// SampleFunc returns the value of channel ch at frame i.
type SampleFunc func(i, ch int) float32

// Source is a synthetic audio.Source. It satisfies the interface
// structurally so audio's own tests can use it.
type Source struct {
	rate     int
	channels int
	frames   int
	pos      int
	fn       SampleFunc
	bufSize  int

	failAt int // frame at which ReadSamples starts failing, -1 for never
	err    error
	closed bool
}

// NewMockSource serves frames frames of fn.
func NewMockSource(sampleRate, channels, frames int, fn SampleFunc) *Source {
	return &Source{
		rate:     sampleRate,
		channels: channels,
		frames:   frames,
		fn:       fn,
		bufSize:  4096,
		failAt:   -1,
	}
}

// NewSilentSource serves frames of digital silence.
func NewSilentSource(sampleRate, channels, frames int) *Source {
	return NewConstantSource(sampleRate, channels, frames, 0)
}

// NewConstantSource serves frames where every sample equals v.
func NewConstantSource(sampleRate, channels, frames int, v float32) *Source {
	return NewMockSource(sampleRate, channels, frames, func(int, int) float32 { return v })
}

// FailAt makes reads return err once frame is reached. Frames before it
// are still delivered.
func (s *Source) FailAt(frame int, err error) *Source {
	s.failAt, s.err = frame, err
	return s
}

// WithBufSize overrides the preferred read size.
func (s *Source) WithBufSize(n int) *Source {
	s.bufSize = n
	return s
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool { return s.closed }

func (s *Source) SampleRate() int { return s.rate }
func (s *Source) Channels() int   { return s.channels }
func (s *Source) BufSize() int    { return s.bufSize }

func (s *Source) Close() error {
	s.closed = true
	return nil
}

func (s *Source) ReadSamples(dst []float32) (int, error) {
	end := s.frames
	if s.failAt >= 0 {
		end = min(end, s.failAt)
	}
	if s.pos >= end {
		if s.pos == s.failAt {
			return 0, s.err
		}
		return 0, io.EOF
	}

	n := min(len(dst)/s.channels, end-s.pos)
	for f := range n {
		for ch := range s.channels {
			dst[f*s.channels+ch] = s.fn(s.pos+f, ch)
		}
	}
	s.pos += n

	if s.pos == s.frames {
		return n * s.channels, io.EOF
	}
	return n * s.channels, nil
}
