// SPDX-License-Identifier: EPL-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// Binary frame layout:
//
//	Offset | Size | Description
//	-------|------|-------------------------------------------
//	0      | 2    | Magic "AW" (a batch starts with "AB")
//	2      | 1    | Version
//	3      | 1    | Message type
//	4      | 1    | Flags, bit 0 set when the body is zstd compressed
//	5      | 4    | Body length (uint32, little-endian)
//	9      | N    | Body
//
// The body starts with the header (id, timestamp as unix nanoseconds) and
// continues with the fields of the variant in declaration order. Strings
// and arrays are prefixed with a uint32 length; floats are float64 bits.
const (
	Version = 1

	frameHeaderSize = 9
	flagZstd        = 0x01

	// maxBody bounds the decompressed size of one body.
	maxBody = 256 << 20
)

var (
	magicFrame = [2]byte{'A', 'W'}
	magicBatch = [2]byte{'A', 'B'}
)

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBody), zstd.WithDecoderConcurrency(0))
	})
)

// appendFrame appends the binary frame of m to dst. Bodies of at least
// compressAt bytes are compressed; compressAt <= 0 disables compression.
func appendFrame(dst []byte, m Message, compressAt int) ([]byte, error) {
	w := writer{b: make([]byte, 0, 64)}
	w.header(m.MessageHeader())
	switch v := m.(type) {
	case *ProcessingRequest:
		w.str(v.FilePath)
		w.config(v.Config)
		w.bool(v.StreamResults)
	case *ProcessingResponse:
		w.str(v.RequestID)
		w.bool(v.Data != nil)
		if v.Data != nil {
			w.data(v.Data)
		}
		w.bool(v.Error != nil)
		if v.Error != nil {
			w.u8(uint8(v.Error.Type))
			w.str(v.Error.Message)
		}
		w.bool(v.IsComplete)
	case *ProgressUpdate:
		w.str(v.RequestID)
		w.f64(v.Progress)
		w.str(v.Status)
		w.floats(v.Partial)
	case *ErrorMessage:
		w.str(v.RequestID)
		w.u8(uint8(v.ErrorType))
		w.str(v.Message)
		w.str(v.StackTrace)
	case *CancellationRequest:
		w.str(v.RequestID)
	default:
		return dst, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	body, flags := w.b, byte(0)
	if compressAt > 0 && len(body) >= compressAt {
		enc, err := zstdEncoder()
		if err != nil {
			return dst, fmt.Errorf("zstd: %w", err)
		}
		body = enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		flags |= flagZstd
	}
	if uint64(len(body)) > math.MaxUint32 {
		return dst, fmt.Errorf("body of %d bytes too large", len(body))
	}

	dst = append(dst, magicFrame[0], magicFrame[1], Version, byte(m.Type()), flags)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...), nil
}

// readFrame decodes the frame at the start of b and returns it with the
// number of bytes it occupied.
func readFrame(b []byte) (Message, int, error) {
	if len(b) < frameHeaderSize {
		return nil, 0, ErrTruncated
	}
	if b[0] != magicFrame[0] || b[1] != magicFrame[1] {
		return nil, 0, ErrBadMagic
	}
	if b[2] != Version {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[2])
	}
	m, err := newMessage(Type(b[3]))
	if err != nil {
		return nil, 0, err
	}
	flags := b[4]
	n := binary.LittleEndian.Uint32(b[5:])
	if uint64(n) > uint64(len(b)-frameHeaderSize) {
		return nil, 0, ErrTruncated
	}
	end := frameHeaderSize + int(n)
	body := b[frameHeaderSize:end]

	if flags&^flagZstd != 0 {
		return nil, 0, fmt.Errorf("unknown flags %#x", flags)
	}
	if flags&flagZstd != 0 {
		dec, err := zstdDecoder()
		if err != nil {
			return nil, 0, fmt.Errorf("zstd: %w", err)
		}
		if body, err = dec.DecodeAll(body, nil); err != nil {
			return nil, 0, fmt.Errorf("zstd: %w", err)
		}
	}

	r := reader{b: body}
	h := r.header()
	switch v := m.(type) {
	case *ProcessingRequest:
		v.Header = h
		v.FilePath = r.str()
		v.Config = r.config()
		v.StreamResults = r.bool()
	case *ProcessingResponse:
		v.Header = h
		v.RequestID = r.str()
		if r.bool() {
			v.Data = r.data()
		}
		if r.bool() {
			v.Error = &Fault{Type: audio.Kind(r.u8()), Message: r.str()}
		}
		v.IsComplete = r.bool()
	case *ProgressUpdate:
		v.Header = h
		v.RequestID = r.str()
		v.Progress = r.f64()
		v.Status = r.str()
		v.Partial = r.floats()
	case *ErrorMessage:
		v.Header = h
		v.RequestID = r.str()
		v.ErrorType = audio.Kind(r.u8())
		v.Message = r.str()
		v.StackTrace = r.str()
	case *CancellationRequest:
		v.Header = h
		v.RequestID = r.str()
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	if r.off != len(r.b) {
		return nil, 0, fmt.Errorf("%w: %d body bytes", ErrTrailingData, len(r.b)-r.off)
	}
	return m, end, nil
}

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *writer) i64(v int64)  { w.b = binary.LittleEndian.AppendUint64(w.b, uint64(v)) }
func (w *writer) f64(v float64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, math.Float64bits(v))
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) floats(a []float64) {
	w.u32(uint32(len(a)))
	w.b = append(w.b, make([]byte, 8*len(a))...)
	out := w.b[len(w.b)-8*len(a):]
	for i, v := range a {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
}

// zeroTime marks time.Time{}, whose UnixNano is out of range.
const zeroTime = math.MinInt64

func (w *writer) time(t time.Time) {
	if t.IsZero() {
		w.i64(zeroTime)
		return
	}
	w.i64(t.UnixNano())
}

func (w *writer) header(h Header) {
	w.str(h.ID)
	w.time(h.Timestamp)
}

func (w *writer) config(c waveform.Config) {
	w.u32(uint32(c.Resolution))
	w.str(string(c.Type))
	w.bool(c.Normalize)
	w.str(string(c.Algorithm))
	w.str(string(c.NormalizationMethod))
	w.str(string(c.ScalingCurve))
	w.f64(c.ScalingFactor)
	w.bool(c.Smoothing)
	w.u32(uint32(c.SmoothingWindow))
}

func (w *writer) data(d *waveform.Data) {
	w.floats(d.Amplitudes)
	w.i64(d.DurationMs)
	w.u32(uint32(d.SampleRate))
	w.u32(uint32(d.Metadata.Resolution))
	w.str(string(d.Metadata.Type))
	w.bool(d.Metadata.Normalized)
	w.time(d.Metadata.GeneratedAt)
	w.str(string(d.Metadata.Algorithm))
	w.str(d.Metadata.Format)
}

// reader decodes fields in order. The first failure sticks; later reads
// return zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b)-r.off {
		r.err = ErrTruncated
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) u8() uint8 {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *reader) u32() uint32 {
	if p := r.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (r *reader) i64() int64 {
	if p := r.take(8); p != nil {
		return int64(binary.LittleEndian.Uint64(p))
	}
	return 0
}

func (r *reader) f64() float64 {
	if p := r.take(8); p != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return 0
}

func (r *reader) bool() bool {
	switch r.u8() {
	case 0:
		return false
	case 1:
		return true
	}
	if r.err == nil {
		r.err = fmt.Errorf("invalid bool at offset %d", r.off-1)
	}
	return false
}

func (r *reader) str() string {
	n := r.u32()
	return string(r.take(int(n)))
}

func (r *reader) floats() []float64 {
	n := int(r.u32())
	if r.err != nil || n == 0 {
		return nil
	}
	if n > (len(r.b)-r.off)/8 {
		r.err = ErrTruncated
		return nil
	}
	p := r.take(8 * n)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(p[i*8:]))
	}
	return out
}

func (r *reader) time() time.Time {
	v := r.i64()
	if v == zeroTime {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func (r *reader) header() Header {
	return Header{ID: r.str(), Timestamp: r.time()}
}

func (r *reader) config() waveform.Config {
	return waveform.Config{
		Resolution:          int(r.u32()),
		Type:                waveform.Type(r.str()),
		Normalize:           r.bool(),
		Algorithm:           waveform.Algorithm(r.str()),
		NormalizationMethod: waveform.Normalization(r.str()),
		ScalingCurve:        waveform.Curve(r.str()),
		ScalingFactor:       r.f64(),
		Smoothing:           r.bool(),
		SmoothingWindow:     int(r.u32()),
	}
}

func (r *reader) data() *waveform.Data {
	return &waveform.Data{
		Amplitudes: r.floats(),
		DurationMs: r.i64(),
		SampleRate: int(r.u32()),
		Metadata: waveform.Metadata{
			Resolution:  int(r.u32()),
			Type:        waveform.Type(r.str()),
			Normalized:  r.bool(),
			GeneratedAt: r.time(),
			Algorithm:   waveform.Algorithm(r.str()),
			Format:      r.str(),
		},
	}
}
