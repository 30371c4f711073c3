// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"io"
	"time"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/formats/aiff"
	"github.com/ik5/audwave/formats/wav"
)

// pcmStrategy reads uncompressed WAV and AIFF data. Every byte offset maps
// to a sample, so seeking is exact.
type pcmStrategy struct {
	lib    *codec.Library
	format audio.Format

	units      codec.UnitDecoder
	blockAlign int
	start      int64
}

func (s *pcmStrategy) kind() Strategy { return StrategyPCM }

func (s *pcmStrategy) probe(r io.ReaderAt, size int64, c *Context) (int64, int64, error) {
	var (
		sf       audio.SampleFormat
		rate, ch int
		off, n   int64
	)
	if s.format == audio.FormatAIFF {
		h, err := aiff.ParseHeader(r, size)
		if err != nil {
			return 0, 0, err
		}
		sf, rate, ch, off, n = h.Format, h.SampleRate, h.Channels, h.DataOffset, h.DataSize
	} else {
		h, err := wav.ParseHeader(r, size)
		if err != nil {
			return 0, 0, err
		}
		sf, rate, ch, off, n = h.Format, h.SampleRate, h.Channels, h.DataOffset, h.DataSize
	}

	units, err := s.lib.NewUnitDecoder(s.format, codec.UnitParams{SampleRate: rate, Channels: ch, PCM: sf})
	if err != nil {
		return 0, 0, err
	}
	s.units = units
	s.blockAlign = ch * sf.BytesPerSample()
	s.start = off
	n -= n % int64(s.blockAlign)

	frames := n / int64(s.blockAlign)
	c.SampleRate, c.Channels, c.BitDepth = rate, ch, sf.Bits
	c.TotalFrames = frames
	c.TotalDuration = time.Duration(frames) * time.Second / time.Duration(rate)
	c.DurationExact = true
	c.SeekIndex = IndexByteExact
	return off, off + n, nil
}

func (s *pcmStrategy) decode(buf []byte, _ int64, final bool) (int, []float32, error) {
	n := len(buf) - len(buf)%s.blockAlign
	if n == 0 {
		return 0, nil, nil
	}
	out, err := s.units.Decode([][]byte{buf[:n]})
	return n, out, err
}

func (s *pcmStrategy) seek(_ io.ReaderAt, frame int64, _ *Context) (seekPoint, error) {
	return seekPoint{offset: s.start + frame*int64(s.blockAlign), frame: frame, exact: true}, nil
}

func (s *pcmStrategy) output() (int, int) {
	if s.units == nil {
		return 0, 0
	}
	return s.units.SampleRate(), s.units.Channels()
}

func (s *pcmStrategy) close() error {
	if s.units == nil {
		return nil
	}
	return s.units.Close()
}
