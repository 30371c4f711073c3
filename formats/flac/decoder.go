// SPDX-License-Identifier: EPL-2.0

package flac

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	mflac "github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/ik5/audwave/audio"
)

// stream decodes frames through github.com/mewkiz/flac. The frames are
// preceded by a synthetic header holding only STREAMINFO, so any run of
// whole frames can be decoded on its own.
type stream struct {
	dec      *mflac.Stream
	channels int
	pending  []float32
}

func newStream(infoBlock []byte, frames []byte) (*stream, error) {
	head := make([]byte, 0, 8+len(infoBlock))
	head = append(head, "fLaC"...)
	head = append(head, 0x80|blockStreamInfo, 0, 0, byte(len(infoBlock)))
	head = append(head, infoBlock...)

	dec, err := mflac.New(io.MultiReader(bytes.NewReader(head), bytes.NewReader(frames)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoStreamInfo, err)
	}
	return &stream{dec: dec, channels: int(dec.Info.NChannels)}, nil
}

// next decodes one frame into interleaved samples. It returns io.EOF after
// the last frame.
func (s *stream) next(dst []float32) ([]float32, error) {
	f, err := s.dec.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dst, io.EOF
		}
		return dst, fmt.Errorf("flac frame: %w", err)
	}
	return appendFrame(dst, f), nil
}

func appendFrame(dst []float32, f *frame.Frame) []float32 {
	bps := int(f.BitsPerSample)
	if bps == 0 {
		bps = 16
	}
	scale := 1 / float32(int64(1)<<(bps-1))
	n := int(f.BlockSize)
	for i := range n {
		for _, sub := range f.Subframes {
			if i < len(sub.Samples) {
				dst = append(dst, float32(sub.Samples[i])*scale)
			} else {
				dst = append(dst, 0)
			}
		}
	}
	return dst
}

func (s *stream) Close() error {
	if err := s.dec.Close(); err != nil {
		return fmt.Errorf("closing flac stream: %w", err)
	}
	return nil
}

type source struct {
	st       *stream
	rate     int
	channels int
	buf      []float32
	pos      int
	eof      bool
}

func (s *source) SampleRate() int { return s.rate }
func (s *source) Channels() int   { return s.channels }
func (s *source) BufSize() int    { return 4096 }
func (s *source) Close() error    { return s.st.Close() }

func (s *source) ReadSamples(dst []float32) (int, error) {
	written := 0
	for written < len(dst) {
		if s.pos >= len(s.buf) {
			if s.eof {
				break
			}
			var err error
			s.buf, err = s.st.next(s.buf[:0])
			s.pos = 0
			if err == io.EOF {
				s.eof = true
			} else if err != nil {
				return written, err
			}
			continue
		}
		n := copy(dst[written:], s.buf[s.pos:])
		s.pos += n
		written += n
	}
	if s.eof && s.pos >= len(s.buf) {
		return written, io.EOF
	}
	return written, nil
}

// Decoder decodes a complete FLAC stream.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading flac data: %w", err)
	}
	md, err := ParseMetadata(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	frames, _ := SplitFrames(data[md.AudioOffset:], md.Info, true)
	if len(frames) == 0 {
		return nil, ErrNoFrameSync
	}
	var body []byte
	for _, f := range frames {
		body = append(body, normalize(f, md.Info)...)
	}

	st, err := newStream(md.InfoBlock, body)
	if err != nil {
		return nil, err
	}
	return &source{st: st, rate: md.Info.SampleRate, channels: md.Info.Channels}, nil
}

var rateCodes = map[int]byte{
	88200: 1, 176400: 2, 192000: 3, 8000: 4, 16000: 5, 22050: 6,
	24000: 7, 32000: 8, 44100: 9, 48000: 10, 96000: 11,
}

var bpsToCode = map[int]byte{8: 1, 12: 2, 16: 4, 20: 5, 24: 6, 32: 7}

// normalize returns frame with "see STREAMINFO" sample rate and sample size
// codes replaced by explicit ones, re-checksummed. Frames that already carry
// explicit values are returned unchanged.
func normalize(f []byte, info StreamInfo) []byte {
	h, ok := ParseFrameHeader(f, info)
	if !ok {
		return f
	}
	rate := f[2] & 0x0F
	bps := (f[3] >> 1) & 0x07

	newRate, newBps := rate, bps
	if rate == 0 {
		if c, ok := rateCodes[info.SampleRate]; ok {
			newRate = c
		}
	}
	if bps == 0 {
		if c, ok := bpsToCode[info.BitsPerSample]; ok {
			newBps = c
		}
	}
	if newRate == rate && newBps == bps {
		return f
	}

	out := bytes.Clone(f)
	out[2] = out[2]&0xF0 | newRate
	out[3] = out[3]&0xF1 | newBps<<1
	out[h.Len-1] = crc8(out[:h.Len-1])
	body := len(out) - 2
	c := crc16(out[:body])
	out[body], out[body+1] = byte(c>>8), byte(c)
	return out
}
