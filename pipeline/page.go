// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/formats/ogg"
	"github.com/ik5/audwave/formats/opus"
	"github.com/ik5/audwave/formats/vorbis"
)

// maxHeaderBytes bounds how far the Ogg header packets may extend.
const maxHeaderBytes = 16 << 20

// pageStrategy reads Ogg Vorbis and Ogg Opus. Only whole, checksummed pages
// are consumed; packets spanning pages are joined by the Assembler. Granule
// positions give an exact duration and exact seeks.
type pageStrategy struct {
	lib    *codec.Library
	format audio.Format

	units     codec.UnitDecoder
	asm       ogg.Assembler
	preSkip   int64
	dataStart int64
	size      int64
}

func (s *pageStrategy) kind() Strategy { return StrategyPageIndexed }

func (s *pageStrategy) probe(r io.ReaderAt, size int64, c *Context) (int64, int64, error) {
	want := 3
	if s.format == audio.FormatOpus {
		want = 2
	}

	var headers [][]byte
	off := int64(0)
	for len(headers) < want {
		if off >= size || off > maxHeaderBytes {
			return 0, 0, fmt.Errorf("%w: %d of %d header packets", vorbis.ErrMissingHeaders, len(headers), want)
		}
		buf, err := readWindow(r, off, size, 2*ogg.MaxPageSize)
		if err != nil {
			return 0, 0, err
		}
		i, p, _, ok := ogg.FindPage(buf, 0)
		if !ok {
			if i == 0 || off+int64(len(buf)) >= size {
				return 0, 0, ogg.ErrNotOggPage
			}
			off += int64(i)
			continue
		}
		if len(headers) == 0 && !p.BOS() {
			return 0, 0, fmt.Errorf("%w: first page is not BOS", ogg.ErrNotOggPage)
		}
		for _, pkt := range s.asm.Push(p) {
			headers = append(headers, pkt.Data)
		}
		off += int64(i + p.Size)
	}

	params := codec.UnitParams{}
	switch s.format {
	case audio.FormatOpus:
		h, err := opus.ParseHead(headers[0])
		if err != nil {
			return 0, 0, err
		}
		if !opus.IsTags(headers[1]) {
			return 0, 0, fmt.Errorf("%w: missing OpusTags", opus.ErrNotOpusHead)
		}
		s.preSkip = int64(h.PreSkip)
		params.Header = headers[0]
		c.SampleRate, c.Channels = opus.SampleRate, h.Channels
	default:
		id, err := vorbis.ParseIdent(headers[0])
		if err != nil {
			return 0, 0, err
		}
		params.Headers = headers[:3]
		c.SampleRate, c.Channels = id.SampleRate, id.Channels
	}

	units, err := s.lib.NewUnitDecoder(s.format, params)
	if err != nil {
		return 0, 0, err
	}
	s.units, s.dataStart, s.size = units, off, size

	if g, ok, err := ogg.LastGranule(r, size, s.asm.Serial()); err != nil {
		return 0, 0, err
	} else if ok && g > s.preSkip {
		c.TotalFrames = g - s.preSkip
		c.TotalDuration = time.Duration(c.TotalFrames) * time.Second / time.Duration(c.SampleRate)
		c.DurationExact = true
	}
	c.SeekIndex = IndexGranule
	return off, size, nil
}

func (s *pageStrategy) decode(buf []byte, _ int64, final bool) (int, []float32, error) {
	var packets [][]byte
	pos := 0
	for {
		i, p, _, ok := ogg.FindPage(buf, pos)
		if !ok {
			pos = i
			if final {
				pos = len(buf)
			}
			break
		}
		for _, pkt := range s.asm.Push(p) {
			packets = append(packets, pkt.Data)
		}
		pos = i + p.Size
	}

	out, err := s.units.Decode(packets)
	return pos, out, err
}

// seek bisects on granule positions. The resume frame may be negative for
// Opus, whose first preSkip samples are discarded by trimming.
func (s *pageStrategy) seek(r io.ReaderAt, frame int64, _ *Context) (seekPoint, error) {
	sp, err := ogg.Bisect(r, s.dataStart, s.size, s.asm.Serial(), frame+s.preSkip)
	if err != nil {
		return seekPoint{}, err
	}
	s.asm.Reset()
	s.units.Reset()
	return seekPoint{offset: sp.Offset, frame: sp.Granule - s.preSkip, exact: true}, nil
}

func (s *pageStrategy) output() (int, int) {
	if s.units == nil {
		return 0, 0
	}
	return s.units.SampleRate(), s.units.Channels()
}

func (s *pageStrategy) close() error {
	if s.units == nil {
		return nil
	}
	return s.units.Close()
}
