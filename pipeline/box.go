// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"io"
	"time"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/formats/mp4"
)

// boxStrategy walks the sample table of an MP4 sound track. Samples are
// located by offset, so bytes between chunks (other tracks, boxes) are
// skipped, and seeking is an exact table lookup.
type boxStrategy struct {
	lib *codec.Library

	units  codec.UnitDecoder
	track  *mp4.Track
	cursor mp4.Cursor
}

func (s *boxStrategy) kind() Strategy { return StrategyBoxIndexed }

func (s *boxStrategy) probe(r io.ReaderAt, size int64, c *Context) (int64, int64, error) {
	t, err := mp4.ParseFile(r, size)
	if err != nil {
		return 0, 0, err
	}
	if !t.PCM() {
		return 0, 0, mp4.UnsupportedCodecError(t)
	}
	if t.SampleCount == 0 || len(t.Chunks) == 0 {
		return 0, 0, ErrNoAudioData
	}
	units, err := s.lib.NewUnitDecoder(audio.FormatMP4, codec.UnitParams{
		SampleRate: t.SampleRate,
		Channels:   t.Channels,
		PCM:        t.Format,
	})
	if err != nil {
		return 0, 0, err
	}
	s.units, s.track = units, t
	s.cursor = t.CursorAt(0)

	start, end := s.cursor.Offset(), int64(0)
	for _, ch := range t.Chunks {
		if ch.Count == 0 {
			continue
		}
		start = min(start, ch.Offset)
		last := t.CursorAt(ch.FirstSample + int64(ch.Count) - 1)
		end = max(end, min(last.End(), size))
	}

	c.SampleRate, c.Channels, c.BitDepth = t.SampleRate, t.Channels, t.Format.Bits
	c.TotalFrames = t.SampleCount
	c.TotalDuration = time.Duration(t.SampleCount) * time.Second / time.Duration(t.SampleRate)
	if t.Timescale > 0 && t.Duration > 0 {
		c.TotalDuration = t.Length()
	}
	c.DurationExact = true
	c.SeekIndex = IndexSampleTable
	return start, end, nil
}

// decode takes every sample of the cursor that lies completely inside buf.
// Adjacent samples are merged into one run.
func (s *boxStrategy) decode(buf []byte, base int64, final bool) (int, []float32, error) {
	bufEnd := base + int64(len(buf))
	var runs [][]byte
	runStart, runEnd := int64(-1), int64(-1)

	for !s.cursor.Done() {
		off, end := s.cursor.Offset(), s.cursor.End()
		if off < base {
			// Sample data before the chunk; a table pointing backwards.
			s.cursor.Advance()
			continue
		}
		if end > bufEnd {
			break
		}
		if off != runEnd {
			if runStart >= 0 {
				runs = append(runs, buf[runStart-base:runEnd-base])
			}
			runStart = off
		}
		runEnd = end
		s.cursor.Advance()
	}
	if runStart >= 0 {
		runs = append(runs, buf[runStart-base:runEnd-base])
	}

	consumed := len(buf)
	if !s.cursor.Done() && !final {
		consumed = int(min(max(s.cursor.Offset()-base, 0), int64(len(buf))))
	}
	out, err := s.units.Decode(runs)
	return consumed, out, err
}

func (s *boxStrategy) seek(_ io.ReaderAt, frame int64, _ *Context) (seekPoint, error) {
	t := s.track
	sample := frame
	if t.Timescale > 0 && int64(t.SampleRate) != t.Timescale {
		ts := frame * t.Timescale / int64(t.SampleRate)
		var start int64
		sample, start = t.SampleAtTime(ts)
		frame = start * int64(t.SampleRate) / t.Timescale
	}
	s.cursor = t.CursorAt(sample)
	off := s.cursor.Offset()
	if s.cursor.Done() {
		last := t.CursorAt(t.SampleCount - 1)
		off = last.End()
	}
	return seekPoint{offset: off, frame: frame, exact: true}, nil
}

func (s *boxStrategy) output() (int, int) {
	if s.units == nil {
		return 0, 0
	}
	return s.units.SampleRate(), s.units.Channels()
}

func (s *boxStrategy) close() error {
	if s.units == nil {
		return nil
	}
	return s.units.Close()
}
