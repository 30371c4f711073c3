// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/formats/flac"
	"github.com/ik5/audwave/formats/mp3"
)

// probeWindow is how much is read to find the first frame or page.
const probeWindow = 64 << 10

func readWindow(r io.ReaderAt, off, end int64, n int) ([]byte, error) {
	n = int(min(int64(n), end-off))
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	got, err := r.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, audio.WrapError(audio.KindFileAccess, "pipeline.read", "", err)
	}
	return buf[:got], nil
}

// ratioOffset maps frame onto the byte range [start, end) proportionally.
func ratioOffset(frame, total, start, end int64) int64 {
	if total <= 0 {
		return start
	}
	frac := min(float64(frame)/float64(total), 1)
	return start + int64(frac*float64(end-start))
}

// mp3Strategy scans MPEG audio frames. Bytes that do not form a valid,
// consistent frame are skipped until the next sync.
type mp3Strategy struct {
	lib *codec.Library

	units   codec.UnitDecoder
	header  mp3.FrameHeader
	vbr     *mp3.VBRInfo
	start   int64
	end     int64
	resyncs int
}

func (s *mp3Strategy) kind() Strategy { return StrategyFrameBased }

func (s *mp3Strategy) probe(r io.ReaderAt, size int64, c *Context) (int64, int64, error) {
	head, err := readWindow(r, 0, size, 10)
	if err != nil {
		return 0, 0, err
	}
	start := int64(mp3.ID3v2Size(head))
	end := size
	if size-start >= 128 {
		tail, err := readWindow(r, size-128, size, 128)
		if err != nil {
			return 0, 0, err
		}
		if mp3.HasID3v1(tail) {
			end -= 128
		}
	}
	if start >= end {
		return 0, 0, mp3.ErrNoFrameSync
	}

	buf, err := readWindow(r, start, end, probeWindow)
	if err != nil {
		return 0, 0, err
	}
	sync, ok := mp3.FindSync(buf, 0)
	if !ok || !sync.Complete {
		return 0, 0, mp3.ErrNoFrameSync
	}
	h := sync.Header
	if h.Layer != 3 {
		return 0, 0, fmt.Errorf("%w: layer %d", mp3.ErrUnsupportedLayer, h.Layer)
	}
	first := start + int64(sync.Offset)

	units, err := s.lib.NewUnitDecoder(audio.FormatMP3, codec.UnitParams{SampleRate: h.SampleRate})
	if err != nil {
		return 0, 0, err
	}
	s.units, s.header, s.end = units, h, end
	s.start = first

	c.SampleRate, c.Channels = h.SampleRate, h.Channels
	if vbr, ok := mp3.ParseVBR(buf[sync.Offset:sync.Offset+h.FrameSize], h); ok {
		// The info frame carries no audio.
		s.vbr = vbr
		s.start = first + int64(h.FrameSize)
		if vbr.Frames > 0 {
			c.TotalFrames = vbr.Frames * int64(h.Samples)
			c.TotalDuration = vbr.Duration(h)
			c.DurationExact = true
		}
		if _, ok := vbr.SeekOffset(0, end-s.start); ok {
			c.SeekIndex = IndexXingTOC
		}
	}
	if c.TotalDuration == 0 && h.Bitrate > 0 {
		bits := float64(end-first) * 8
		c.TotalDuration = time.Duration(bits / float64(h.Bitrate) * float64(time.Second))
	}
	return s.start, end, nil
}

func (s *mp3Strategy) decode(buf []byte, _ int64, final bool) (int, []float32, error) {
	var frames [][]byte
	pos := 0
	for {
		sync, ok := mp3.FindSync(buf, pos)
		if !ok {
			if final {
				pos = len(buf)
			} else {
				// A header may straddle the chunk end.
				pos = max(pos, len(buf)-3)
			}
			break
		}
		if sync.Offset > pos {
			s.resyncs++
			pos = sync.Offset
		}
		h := sync.Header
		frameEnd := sync.Offset + h.FrameSize
		// Until the next header is visible the sync is unconfirmed.
		if !sync.Complete || (!final && frameEnd+4 > len(buf)) {
			pos = sync.Offset
			if final {
				pos = len(buf)
			}
			break
		}
		if h.Layer != 3 || h.SampleRate != s.header.SampleRate {
			pos = sync.Offset + 1
			continue
		}
		frames = append(frames, buf[sync.Offset:frameEnd])
		pos = frameEnd
	}

	out, err := s.units.Decode(frames)
	return pos, out, err
}

func (s *mp3Strategy) seek(_ io.ReaderAt, frame int64, c *Context) (seekPoint, error) {
	total := c.TotalFrames
	if total == 0 {
		total = int64(c.TotalDuration.Seconds() * float64(s.header.SampleRate))
	}
	s.units.Reset()

	off := ratioOffset(frame, total, s.start, s.end)
	if s.vbr != nil && total > 0 {
		if rel, ok := s.vbr.SeekOffset(float64(frame)/float64(total), s.end-s.start); ok {
			off = s.start + rel
		}
	}
	return seekPoint{offset: off, frame: frame}, nil
}

func (s *mp3Strategy) output() (int, int) {
	if s.units == nil {
		return 0, 0
	}
	return s.units.SampleRate(), s.units.Channels()
}

func (s *mp3Strategy) close() error {
	if s.units == nil {
		return nil
	}
	return s.units.Close()
}

// flacStrategy splits FLAC frames on CRC-verified boundaries. Every frame
// header carries its sample number, so seeks are exact even without a
// SEEKTABLE.
type flacStrategy struct {
	lib *codec.Library

	units codec.UnitDecoder
	md    *flac.Metadata
	end   int64
}

func (s *flacStrategy) kind() Strategy { return StrategyFrameBased }

func (s *flacStrategy) probe(r io.ReaderAt, size int64, c *Context) (int64, int64, error) {
	md, err := flac.ParseMetadata(r, size)
	if err != nil {
		return 0, 0, err
	}
	units, err := s.lib.NewUnitDecoder(audio.FormatFLAC, codec.UnitParams{Header: md.InfoBlock})
	if err != nil {
		return 0, 0, err
	}
	s.units, s.md, s.end = units, md, size

	info := md.Info
	c.SampleRate, c.Channels, c.BitDepth = info.SampleRate, info.Channels, info.BitsPerSample
	if info.TotalSamples > 0 {
		c.TotalFrames = int64(info.TotalSamples)
		c.TotalDuration = info.Duration()
		c.DurationExact = true
	}
	c.SeekIndex = IndexNone
	if len(md.SeekTable) > 0 {
		c.SeekIndex = IndexSeekTable
	}
	return md.AudioOffset, size, nil
}

func (s *flacStrategy) decode(buf []byte, _ int64, final bool) (int, []float32, error) {
	frames, consumed := flac.SplitFrames(buf, s.md.Info, final)
	out, err := s.units.Decode(frames)
	return consumed, out, err
}

func (s *flacStrategy) seek(r io.ReaderAt, frame int64, c *Context) (seekPoint, error) {
	start := s.md.AudioOffset
	if pt, ok := s.md.SeekPointFor(uint64(frame)); ok {
		return seekPoint{offset: start + int64(pt.Offset), frame: int64(pt.Sample), exact: true}, nil
	}
	if frame == 0 || c.TotalFrames == 0 {
		return seekPoint{offset: start, exact: true}, nil
	}

	// Without a table, land proportionally and read the sample number of
	// the next frame header.
	off := ratioOffset(frame, c.TotalFrames, start, s.end)
	for off > start {
		buf, err := readWindow(r, off, s.end, probeWindow)
		if err != nil {
			return seekPoint{}, err
		}
		if i, h, ok := flac.FindSync(buf, 0, s.md.Info); ok {
			at := s.frameSample(h)
			if at <= frame {
				return seekPoint{offset: off + int64(i), frame: at, exact: true}, nil
			}
		}
		// Overshot or no header found: step back.
		off = max(start, off-probeWindow)
	}
	return seekPoint{offset: start, exact: true}, nil
}

func (s *flacStrategy) frameSample(h flac.FrameHeader) int64 {
	if h.Variable {
		return int64(h.Number)
	}
	bs := s.md.Info.MaxBlockSize
	if bs == 0 {
		bs = h.BlockSize
	}
	return int64(h.Number) * int64(bs)
}

func (s *flacStrategy) output() (int, int) {
	if s.units == nil {
		return 0, 0
	}
	return s.units.SampleRate(), s.units.Channels()
}

func (s *flacStrategy) close() error {
	if s.units == nil {
		return nil
	}
	return s.units.Close()
}
