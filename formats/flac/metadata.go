// SPDX-License-Identifier: EPL-2.0

package flac

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Metadata block types.
const (
	blockStreamInfo = 0
	blockSeekTable  = 3
)

// placeholderPoint marks an unused SEEKTABLE entry.
const placeholderPoint = ^uint64(0)

// StreamInfo is the decoded STREAMINFO block.
type StreamInfo struct {
	MinBlockSize  int
	MaxBlockSize  int
	MinFrameSize  int
	MaxFrameSize  int
	SampleRate    int
	Channels      int
	BitsPerSample int
	TotalSamples  uint64 // per channel, 0 when unknown
}

func (s StreamInfo) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.TotalSamples) * time.Second / time.Duration(s.SampleRate)
}

// SeekPoint is one SEEKTABLE entry. Offset is relative to the first frame.
type SeekPoint struct {
	Sample  uint64
	Offset  uint64
	Samples uint16
}

// Metadata is everything found before the first audio frame.
type Metadata struct {
	Info      StreamInfo
	InfoBlock []byte // raw 34-byte STREAMINFO body
	SeekTable []SeekPoint
	// AudioOffset is the file offset of the first frame.
	AudioOffset int64
}

// ParseMetadata reads the fLaC marker and all metadata blocks.
func ParseMetadata(r io.ReaderAt, size int64) (*Metadata, error) {
	var hdr [4]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFlacFile, err)
	}
	if !bytes.Equal(hdr[:], []byte("fLaC")) {
		return nil, ErrNotFlacFile
	}

	md := &Metadata{}
	off := int64(4)
	for {
		if off+4 > size {
			return nil, ErrTruncatedHeader
		}
		if _, err := r.ReadAt(hdr[:], off); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedHeader, err)
		}
		last := hdr[0]&0x80 != 0
		typ := hdr[0] & 0x7F
		length := int64(hdr[1])<<16 | int64(hdr[2])<<8 | int64(hdr[3])
		body := off + 4
		if body+length > size {
			return nil, ErrTruncatedHeader
		}

		switch typ {
		case blockStreamInfo:
			if length != 34 {
				return nil, ErrNoStreamInfo
			}
			md.InfoBlock = make([]byte, 34)
			if _, err := r.ReadAt(md.InfoBlock, body); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrTruncatedHeader, err)
			}
			md.Info = ParseStreamInfo(md.InfoBlock)
		case blockSeekTable:
			buf := make([]byte, length)
			if _, err := r.ReadAt(buf, body); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrTruncatedHeader, err)
			}
			md.SeekTable = parseSeekTable(buf)
		}

		off = body + length
		if last {
			break
		}
	}

	if md.InfoBlock == nil || md.Info.SampleRate == 0 || md.Info.Channels == 0 {
		return nil, ErrNoStreamInfo
	}
	md.AudioOffset = off
	return md, nil
}

// ParseStreamInfo decodes a 34-byte STREAMINFO body.
func ParseStreamInfo(b []byte) StreamInfo {
	packed := binary.BigEndian.Uint64(b[10:18])
	return StreamInfo{
		MinBlockSize:  int(binary.BigEndian.Uint16(b[0:2])),
		MaxBlockSize:  int(binary.BigEndian.Uint16(b[2:4])),
		MinFrameSize:  int(b[4])<<16 | int(b[5])<<8 | int(b[6]),
		MaxFrameSize:  int(b[7])<<16 | int(b[8])<<8 | int(b[9]),
		SampleRate:    int(packed >> 44),
		Channels:      int(packed>>41&0x07) + 1,
		BitsPerSample: int(packed>>36&0x1F) + 1,
		TotalSamples:  packed & (1<<36 - 1),
	}
}

func parseSeekTable(b []byte) []SeekPoint {
	points := make([]SeekPoint, 0, len(b)/18)
	for p := 0; p+18 <= len(b); p += 18 {
		pt := SeekPoint{
			Sample:  binary.BigEndian.Uint64(b[p:]),
			Offset:  binary.BigEndian.Uint64(b[p+8:]),
			Samples: binary.BigEndian.Uint16(b[p+16:]),
		}
		if pt.Sample == placeholderPoint {
			continue
		}
		points = append(points, pt)
	}
	return points
}

// SeekPointFor returns the last seek point at or before sample.
func (m *Metadata) SeekPointFor(sample uint64) (SeekPoint, bool) {
	var best SeekPoint
	found := false
	for _, pt := range m.SeekTable {
		if pt.Sample > sample {
			break
		}
		best, found = pt, true
	}
	return best, found
}
