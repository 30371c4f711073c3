// SPDX-License-Identifier: EPL-2.0

package opus

import (
	"bytes"
	"encoding/binary"
)

// SampleRate is the rate Opus always decodes at here. Granule positions are
// counted in 48 kHz samples regardless of the input rate.
const SampleRate = 48000

// maxFrameSamples is 120 ms at 48 kHz, the longest packet Opus allows.
const maxFrameSamples = 5760

// Head is the OpusHead identification header.
type Head struct {
	Version    int
	Channels   int
	PreSkip    int
	InputRate  int // informational only
	OutputGain int // Q7.8 dB
	Mapping    int // channel mapping family
}

// ParseHead decodes an OpusHead packet.
func ParseHead(p []byte) (Head, error) {
	if len(p) < 19 || !bytes.HasPrefix(p, []byte("OpusHead")) {
		return Head{}, ErrNotOpusHead
	}
	h := Head{
		Version:    int(p[8]),
		Channels:   int(p[9]),
		PreSkip:    int(binary.LittleEndian.Uint16(p[10:12])),
		InputRate:  int(binary.LittleEndian.Uint32(p[12:16])),
		OutputGain: int(int16(binary.LittleEndian.Uint16(p[16:18]))),
		Mapping:    int(p[18]),
	}
	if h.Version>>4 != 0 || h.Channels == 0 {
		return Head{}, ErrNotOpusHead
	}
	return h, nil
}

// IsTags reports whether p is an OpusTags comment header.
func IsTags(p []byte) bool { return bytes.HasPrefix(p, []byte("OpusTags")) }

var frameSizes = [32]int{
	// SILK: 10, 20, 40, 60 ms
	480, 960, 1920, 2880, 480, 960, 1920, 2880, 480, 960, 1920, 2880,
	// Hybrid: 10, 20 ms
	480, 960, 480, 960,
	// CELT: 2.5, 5, 10, 20 ms
	120, 240, 480, 960, 120, 240, 480, 960, 120, 240, 480, 960, 120, 240, 480, 960,
}

// PacketSamples returns the number of 48 kHz samples per channel a packet
// decodes to, read from its TOC byte. It returns 0 for a malformed packet.
func PacketSamples(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	size := frameSizes[p[0]>>3]
	var frames int
	switch p[0] & 0x03 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	default:
		if len(p) < 2 {
			return 0
		}
		frames = int(p[1] & 0x3F)
	}
	n := size * frames
	if n > maxFrameSamples {
		return 0
	}
	return n
}
