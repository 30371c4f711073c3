// SPDX-License-Identifier: EPL-2.0

package vorbis

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jfreymuth/vorbis"
)

// Ident is the Vorbis identification header.
type Ident struct {
	Channels       int
	SampleRate     int
	BitrateMax     int
	BitrateNominal int
	BitrateMin     int
}

// ParseIdent decodes the identification header packet.
func ParseIdent(p []byte) (Ident, error) {
	if !IsHeader(p, 1) || len(p) < 30 {
		return Ident{}, ErrNotVorbisHeader
	}
	id := Ident{
		Channels:       int(p[11]),
		SampleRate:     int(binary.LittleEndian.Uint32(p[12:16])),
		BitrateMax:     int(int32(binary.LittleEndian.Uint32(p[16:20]))),
		BitrateNominal: int(int32(binary.LittleEndian.Uint32(p[20:24]))),
		BitrateMin:     int(int32(binary.LittleEndian.Uint32(p[24:28]))),
	}
	if id.Channels == 0 || id.SampleRate == 0 {
		return Ident{}, ErrNotVorbisHeader
	}
	return id, nil
}

// IsHeader reports whether p is a Vorbis header packet of the given type
// (1 identification, 3 comment, 5 setup).
func IsHeader(p []byte, typ byte) bool {
	return len(p) >= 7 && p[0] == typ && bytes.Equal(p[1:7], []byte("vorbis"))
}

// PacketDecoder decodes audio packets once the three header packets have
// been read. Output is interleaved.
type PacketDecoder struct {
	dec vorbis.Decoder
}

// NewPacketDecoder primes a decoder with the identification, comment and
// setup headers, in stream order.
func NewPacketDecoder(headers [][]byte) (*PacketDecoder, error) {
	if len(headers) < 3 {
		return nil, ErrMissingHeaders
	}
	d := &PacketDecoder{}
	for i, h := range headers[:3] {
		if !IsHeader(h, byte(2*i+1)) {
			return nil, ErrNotVorbisHeader
		}
		if err := d.dec.ReadHeader(h); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotVorbisHeader, err)
		}
	}
	if !d.dec.HeadersRead() {
		return nil, ErrMissingHeaders
	}
	return d, nil
}

func (d *PacketDecoder) SampleRate() int { return d.dec.SampleRate() }
func (d *PacketDecoder) Channels() int   { return d.dec.Channels() }

// Reset forgets the overlap with the previous packet, e.g. after a seek. The
// next packet then produces no output.
func (d *PacketDecoder) Reset() { d.dec.Clear() }

func (d *PacketDecoder) Close() error { return nil }

// Decode returns the samples of packets in order. A packet the decoder
// rejects fails the batch.
func (d *PacketDecoder) Decode(packets [][]byte) ([]float32, error) {
	var out []float32
	for _, p := range packets {
		if len(p) == 0 || p[0]&0x01 != 0 {
			// Empty or header packet inside audio data.
			continue
		}
		s, err := d.dec.Decode(p)
		if err != nil {
			return out, fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
		out = append(out, s...)
	}
	return out, nil
}
