// SPDX-License-Identifier: EPL-2.0

package mp3

import (
	"bytes"
	"time"
)

// MPEG versions as encoded in the frame header.
const (
	MPEG25 = 0
	MPEG2  = 2
	MPEG1  = 3
)

// FrameHeader is a decoded 4-byte MPEG audio frame header.
type FrameHeader struct {
	Version    int // MPEG1, MPEG2 or MPEG25
	Layer      int // 1, 2 or 3
	Bitrate    int // bits per second
	SampleRate int
	Padding    bool
	Channels   int
	FrameSize  int // bytes, header included
	Samples    int // samples per channel
}

func (h FrameHeader) Duration() time.Duration {
	return time.Duration(h.Samples) * time.Second / time.Duration(h.SampleRate)
}

// sideInfoSize is the Layer III side information length following the header.
func (h FrameHeader) sideInfoSize() int {
	switch {
	case h.Version == MPEG1 && h.Channels == 1:
		return 17
	case h.Version == MPEG1:
		return 32
	case h.Channels == 1:
		return 9
	default:
		return 17
	}
}

// compatible reports whether two headers can belong to the same stream.
func (h FrameHeader) compatible(o FrameHeader) bool {
	return h.Version == o.Version && h.Layer == o.Layer && h.SampleRate == o.SampleRate
}

var bitrates = [2][3][15]int{
	{ // MPEG1: layer I, II, III
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	},
	{ // MPEG2/2.5: layer I, II, III
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	},
}

var sampleRates = map[int][3]int{
	MPEG1:  {44100, 48000, 32000},
	MPEG2:  {22050, 24000, 16000},
	MPEG25: {11025, 12000, 8000},
}

// ParseFrameHeader decodes the header at the start of b. Free-format and
// reserved values are rejected.
func ParseFrameHeader(b []byte) (FrameHeader, bool) {
	var h FrameHeader
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return h, false
	}

	h.Version = int(b[1]>>3) & 0x03
	layerBits := int(b[1]>>1) & 0x03
	brIdx := int(b[2] >> 4)
	srIdx := int(b[2]>>2) & 0x03

	if h.Version == 1 || layerBits == 0 || brIdx == 0 || brIdx == 15 || srIdx == 3 || b[3]&0x03 == 2 {
		return h, false
	}

	h.Layer = 4 - layerBits
	table := 0
	if h.Version != MPEG1 {
		table = 1
	}
	h.Bitrate = bitrates[table][h.Layer-1][brIdx] * 1000
	h.SampleRate = sampleRates[h.Version][srIdx]
	h.Padding = b[2]&0x02 != 0
	h.Channels = 2
	if b[3]>>6 == 3 {
		h.Channels = 1
	}

	pad := 0
	if h.Padding {
		pad = 1
	}
	switch {
	case h.Layer == 1:
		h.Samples = 384
		h.FrameSize = (12*h.Bitrate/h.SampleRate + pad) * 4
	case h.Layer == 3 && h.Version != MPEG1:
		h.Samples = 576
		h.FrameSize = 72*h.Bitrate/h.SampleRate + pad
	default:
		h.Samples = 1152
		h.FrameSize = 144*h.Bitrate/h.SampleRate + pad
	}
	return h, true
}

// Sync is the result of FindSync.
type Sync struct {
	Offset   int
	Header   FrameHeader
	Complete bool // the whole frame lies inside the scanned buffer
}

// FindSync scans b from the given offset for a frame header. When the
// following header is inside b it must be compatible, which filters out
// false syncs in corrupt data. ok is false when no candidate exists.
func FindSync(b []byte, from int) (Sync, bool) {
	for i := max(from, 0); i+4 <= len(b); i++ {
		if b[i] != 0xFF {
			continue
		}
		h, ok := ParseFrameHeader(b[i:])
		if !ok {
			continue
		}
		end := i + h.FrameSize
		if end+4 <= len(b) {
			next, ok := ParseFrameHeader(b[end:])
			if !ok || !next.compatible(h) {
				continue
			}
		}
		return Sync{Offset: i, Header: h, Complete: end <= len(b)}, true
	}
	return Sync{}, false
}

// ID3v2Size returns the total length of an ID3v2 tag at the start of b, or 0.
func ID3v2Size(b []byte) int {
	if len(b) < 10 || !bytes.Equal(b[0:3], []byte("ID3")) {
		return 0
	}
	size := int(b[6]&0x7F)<<21 | int(b[7]&0x7F)<<14 | int(b[8]&0x7F)<<7 | int(b[9]&0x7F)
	size += 10
	if b[5]&0x10 != 0 { // footer present
		size += 10
	}
	return size
}

// HasID3v1 reports whether tail ends with a 128-byte ID3v1 tag.
func HasID3v1(tail []byte) bool {
	return len(tail) >= 128 && bytes.Equal(tail[len(tail)-128:len(tail)-125], []byte("TAG"))
}
