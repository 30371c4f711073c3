// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ik5/audwave/audio"
)

const (
	formatPCM        = 0x0001
	formatFloat      = 0x0003
	formatExtensible = 0xFFFE
)

// Header is the parsed layout of a WAV file: where the sample data lives and
// how to interpret it.
type Header struct {
	Format     audio.SampleFormat
	Channels   int
	SampleRate int
	BlockAlign int
	DataOffset int64
	DataSize   int64
}

// Frames returns the number of complete sample frames in the data chunk.
func (h Header) Frames() int64 {
	if h.BlockAlign == 0 {
		return 0
	}
	return h.DataSize / int64(h.BlockAlign)
}

func (h Header) Duration() time.Duration {
	if h.SampleRate == 0 {
		return 0
	}
	return time.Duration(h.Frames()) * time.Second / time.Duration(h.SampleRate)
}

// ParseHeader walks the RIFF chunks of a WAV file until it finds the data
// chunk. Unknown chunks (LIST, fact, bext, ...) are skipped. A data chunk
// that claims more bytes than the file holds is clamped to the file end.
func ParseHeader(r io.ReaderAt, size int64) (Header, error) {
	var h Header

	riff := make([]byte, 12)
	if _, err := r.ReadAt(riff, 0); err != nil {
		return h, ErrTruncatedHeader
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return h, ErrNotWavFile
	}

	haveFmt := false
	chunk := make([]byte, 8)
	for off := int64(12); off+8 <= size; {
		if _, err := r.ReadAt(chunk, off); err != nil {
			return h, ErrTruncatedHeader
		}
		id := string(chunk[0:4])
		n := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if n < 16 {
				return h, ErrUnsupportedWavLayout
			}
			body := make([]byte, min(n, 40))
			if _, err := r.ReadAt(body, off+8); err != nil {
				return h, ErrTruncatedHeader
			}
			if err := h.parseFmt(body); err != nil {
				return h, err
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return h, ErrUnsupportedWavLayout
			}
			h.DataOffset = off + 8
			h.DataSize = min(n, size-h.DataOffset)
			h.DataSize -= h.DataSize % int64(h.BlockAlign)
			return h, nil
		}

		off += 8 + n + n%2
	}

	if !haveFmt {
		return h, ErrUnsupportedWavLayout
	}
	return h, ErrNoDataChunk
}

func (h *Header) parseFmt(b []byte) error {
	tag := binary.LittleEndian.Uint16(b[0:2])
	h.Channels = int(binary.LittleEndian.Uint16(b[2:4]))
	h.SampleRate = int(binary.LittleEndian.Uint32(b[4:8]))
	h.BlockAlign = int(binary.LittleEndian.Uint16(b[12:14]))
	bits := int(binary.LittleEndian.Uint16(b[14:16]))

	if tag == formatExtensible && len(b) >= 26 {
		tag = binary.LittleEndian.Uint16(b[24:26])
	}

	switch tag {
	case formatPCM:
		h.Format = audio.SampleFormat{Bits: bits, Unsigned: bits == 8}
	case formatFloat:
		h.Format = audio.SampleFormat{Bits: bits, Float: true}
	default:
		return fmt.Errorf("%w: format tag 0x%04x", ErrUnsupportedEncoding, tag)
	}

	if !h.Format.Valid() {
		return fmt.Errorf("%w: %d-bit", ErrUnsupportedEncoding, bits)
	}
	if h.Channels <= 0 || h.SampleRate <= 0 {
		return ErrUnsupportedWavLayout
	}
	if want := h.Channels * h.Format.BytesPerSample(); h.BlockAlign != want {
		h.BlockAlign = want
	}
	return nil
}
