// SPDX-License-Identifier: EPL-2.0

package aiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ik5/audwave/audio"
)

// Header is the parsed layout of an AIFF or AIFF-C file.
type Header struct {
	Format      audio.SampleFormat
	Channels    int
	SampleRate  int
	Frames      int64
	Compression string // AIFF-C compression type, "NONE" for plain AIFF
	DataOffset  int64
	DataSize    int64
}

func (h Header) BlockAlign() int { return h.Channels * h.Format.BytesPerSample() }

func (h Header) Duration() time.Duration {
	if h.SampleRate == 0 {
		return 0
	}
	return time.Duration(h.Frames) * time.Second / time.Duration(h.SampleRate)
}

// ParseHeader reads the COMM and SSND chunks of an AIFF/AIFF-C file.
func ParseHeader(r io.ReaderAt, size int64) (Header, error) {
	h := Header{Compression: "NONE"}

	form := make([]byte, 12)
	if _, err := r.ReadAt(form, 0); err != nil {
		return h, ErrTruncatedHeader
	}
	if !bytes.Equal(form[0:4], []byte("FORM")) {
		return h, ErrNotAiffFile
	}
	aifc := false
	switch string(form[8:12]) {
	case "AIFF":
	case "AIFC":
		aifc = true
	default:
		return h, ErrNotAiffFile
	}

	haveComm, haveData := false, false
	chunk := make([]byte, 8)
	for off := int64(12); off+8 <= size && !(haveComm && haveData); {
		if _, err := r.ReadAt(chunk, off); err != nil {
			return h, ErrTruncatedHeader
		}
		id := string(chunk[0:4])
		n := int64(binary.BigEndian.Uint32(chunk[4:8]))

		switch id {
		case "COMM":
			body := make([]byte, min(n, 64))
			if _, err := r.ReadAt(body, off+8); err != nil && len(body) < 18 {
				return h, ErrTruncatedHeader
			}
			if err := h.parseComm(body, aifc); err != nil {
				return h, err
			}
			haveComm = true

		case "SSND":
			var hdr [8]byte
			if _, err := r.ReadAt(hdr[:], off+8); err != nil {
				return h, ErrTruncatedHeader
			}
			skip := int64(binary.BigEndian.Uint32(hdr[0:4]))
			h.DataOffset = off + 16 + skip
			h.DataSize = max(min(n-8-skip, size-h.DataOffset), 0)
			haveData = true
		}

		off += 8 + n + n%2
	}

	if !haveComm || !haveData {
		return h, ErrUnsupportedAiffLayout
	}
	if align := int64(h.BlockAlign()); align > 0 {
		h.DataSize -= h.DataSize % align
		h.Frames = min(h.Frames, h.DataSize/align)
	}
	return h, nil
}

func (h *Header) parseComm(b []byte, aifc bool) error {
	if len(b) < 18 {
		return ErrTruncatedHeader
	}
	h.Channels = int(binary.BigEndian.Uint16(b[0:2]))
	h.Frames = int64(binary.BigEndian.Uint32(b[2:6]))
	bits := int(binary.BigEndian.Uint16(b[6:8]))
	h.SampleRate = int(math.Round(Float80(b[8:18])))

	h.Format = audio.SampleFormat{Bits: bits, BigEndian: true}
	if aifc && len(b) >= 22 {
		h.Compression = string(b[18:22])
		switch h.Compression {
		case "NONE", "twos":
		case "sowt":
			h.Format.BigEndian = false
		case "fl32", "FL32":
			h.Format = audio.SampleFormat{Bits: 32, Float: true, BigEndian: true}
		case "fl64", "FL64":
			h.Format = audio.SampleFormat{Bits: 64, Float: true, BigEndian: true}
		case "raw ":
			h.Format = audio.SampleFormat{Bits: 8, Unsigned: true}
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedCompression, h.Compression)
		}
	}

	if h.Channels <= 0 || h.SampleRate <= 0 || !h.Format.Valid() {
		return ErrUnsupportedAiffLayout
	}
	return nil
}

// Float80 decodes a big-endian IEEE 754 80-bit extended float.
func Float80(b []byte) float64 {
	exp := int(binary.BigEndian.Uint16(b[0:2]))
	mant := binary.BigEndian.Uint64(b[2:10])
	sign := 1.0
	if exp&0x8000 != 0 {
		sign = -1
		exp &= 0x7FFF
	}
	if exp == 0 && mant == 0 {
		return 0
	}
	return sign * math.Ldexp(float64(mant), exp-16383-63)
}
