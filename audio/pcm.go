// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// SampleFormat describes how raw PCM samples are laid out in bytes.
type SampleFormat struct {
	Bits      int  // 8, 16, 24, 32 or 64
	Float     bool // IEEE float (32 or 64 bits)
	BigEndian bool
	Unsigned  bool // 8-bit WAV stores unsigned samples
}

// BytesPerSample returns the storage size of one sample.
func (f SampleFormat) BytesPerSample() int { return (f.Bits + 7) / 8 }

// Valid reports whether DecodePCM can convert the format.
func (f SampleFormat) Valid() bool {
	if f.Float {
		return f.Bits == 32 || f.Bits == 64
	}
	switch f.Bits {
	case 8, 16, 24, 32:
		return true
	}
	return false
}

// DecodePCM converts whole samples from src into dst and returns the number
// of samples written. Trailing bytes that do not form a sample are ignored.
func DecodePCM(dst []float32, src []byte, f SampleFormat) int {
	size := f.BytesPerSample()
	if size == 0 {
		return 0
	}
	n := min(len(src)/size, len(dst))

	var order binary.ByteOrder = binary.LittleEndian
	if f.BigEndian {
		order = binary.BigEndian
	}

	switch {
	case f.Float && f.Bits == 32:
		for i := range n {
			dst[i] = math.Float32frombits(order.Uint32(src[i*4:]))
		}
	case f.Float && f.Bits == 64:
		for i := range n {
			dst[i] = float32(math.Float64frombits(order.Uint64(src[i*8:])))
		}
	case f.Bits == 8:
		for i := range n {
			if f.Unsigned {
				dst[i] = (float32(src[i]) - 128) / 128
			} else {
				dst[i] = float32(int8(src[i])) / 128
			}
		}
	case f.Bits == 16:
		for i := range n {
			dst[i] = float32(int16(order.Uint16(src[i*2:]))) / 32768
		}
	case f.Bits == 24:
		for i := range n {
			b := src[i*3 : i*3+3]
			var v int32
			if f.BigEndian {
				v = int32(b[0])<<24 | int32(b[1])<<16 | int32(b[2])<<8
			} else {
				v = int32(b[2])<<24 | int32(b[1])<<16 | int32(b[0])<<8
			}
			dst[i] = float32(v>>8) / 8388608
		}
	case f.Bits == 32:
		for i := range n {
			dst[i] = float32(float64(int32(order.Uint32(src[i*4:]))) / 2147483648)
		}
	default:
		return 0
	}
	return n
}

// PCMSource streams raw PCM bytes from r as a Source.
type PCMSource struct {
	r        io.Reader
	format   SampleFormat
	rate     int
	channels int
	raw      []byte
	carry    int // bytes of a partial sample kept at the front of raw
}

// NewPCMSource reads interleaved samples in format f from r.
func NewPCMSource(r io.Reader, f SampleFormat, sampleRate, channels int) *PCMSource {
	return &PCMSource{r: r, format: f, rate: sampleRate, channels: channels}
}

func (s *PCMSource) SampleRate() int { return s.rate }
func (s *PCMSource) Channels() int   { return s.channels }
func (s *PCMSource) BufSize() int    { return 4096 }

func (s *PCMSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing pcm reader: %w", err)
		}
	}
	return nil
}

func (s *PCMSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	size := s.format.BytesPerSample()
	want := len(dst) * size
	if cap(s.raw) < want {
		raw := make([]byte, want)
		copy(raw, s.raw[:s.carry])
		s.raw = raw
	}
	s.raw = s.raw[:want]

	n, err := io.ReadFull(s.r, s.raw[s.carry:])
	total := s.carry + n
	got := DecodePCM(dst, s.raw[:total], s.format)
	s.carry = copy(s.raw, s.raw[got*size:total])

	switch err {
	case nil:
		return got, nil
	case io.EOF, io.ErrUnexpectedEOF:
		if got == 0 {
			return 0, io.EOF
		}
		return got, io.EOF
	default:
		return got, fmt.Errorf("reading pcm data: %w", err)
	}
}
