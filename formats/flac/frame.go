// SPDX-License-Identifier: EPL-2.0

package flac

// FrameHeader is a decoded frame header.
type FrameHeader struct {
	BlockSize     int // samples per channel
	SampleRate    int // 0 when taken from STREAMINFO
	Channels      int
	BitsPerSample int // 0 when taken from STREAMINFO
	Number        uint64
	Variable      bool // Number is a sample number rather than a frame number
	Len           int  // header bytes including CRC-8
}

var blockRates = [12]int{0, 88200, 176400, 192000, 8000, 16000, 22050, 24000, 32000, 44100, 48000, 96000}

var bpsCodes = [8]int{0, 8, 12, -1, 16, 20, 24, 32}

// ParseFrameHeader decodes and CRC-checks the frame header at the start of b.
// A header whose channel count contradicts info is rejected.
func ParseFrameHeader(b []byte, info StreamInfo) (FrameHeader, bool) {
	var h FrameHeader
	if len(b) < 6 || b[0] != 0xFF || b[1]&0xFE != 0xF8 {
		return h, false
	}
	h.Variable = b[1]&0x01 != 0

	bsCode := int(b[2] >> 4)
	rateCode := int(b[2] & 0x0F)
	chCode := int(b[3] >> 4)
	bpsCode := int(b[3]>>1) & 0x07

	if bsCode == 0 || rateCode == 15 || chCode > 10 || bpsCodes[bpsCode] < 0 || b[3]&0x01 != 0 {
		return h, false
	}

	num, n, ok := utf8Number(b[4:])
	if !ok {
		return h, false
	}
	h.Number = num
	p := 4 + n

	switch {
	case bsCode == 1:
		h.BlockSize = 192
	case bsCode <= 5:
		h.BlockSize = 576 << (bsCode - 2)
	case bsCode == 6:
		if len(b) < p+1 {
			return h, false
		}
		h.BlockSize = int(b[p]) + 1
		p++
	case bsCode == 7:
		if len(b) < p+2 {
			return h, false
		}
		h.BlockSize = (int(b[p])<<8 | int(b[p+1])) + 1
		p += 2
	default:
		h.BlockSize = 256 << (bsCode - 8)
	}

	switch {
	case rateCode < 12:
		h.SampleRate = blockRates[rateCode]
	case rateCode == 12:
		if len(b) < p+1 {
			return h, false
		}
		h.SampleRate = int(b[p]) * 1000
		p++
	default:
		if len(b) < p+2 {
			return h, false
		}
		h.SampleRate = int(b[p])<<8 | int(b[p+1])
		if rateCode == 14 {
			h.SampleRate *= 10
		}
		p += 2
	}

	if len(b) < p+1 || crc8(b[:p]) != b[p] {
		return h, false
	}
	h.Len = p + 1

	h.Channels = chCode + 1
	if chCode >= 8 {
		h.Channels = 2
	}
	h.BitsPerSample = bpsCodes[bpsCode]

	if info.Channels != 0 && h.Channels != info.Channels {
		return h, false
	}
	if info.SampleRate != 0 && h.SampleRate != 0 && h.SampleRate != info.SampleRate {
		return h, false
	}
	return h, true
}

// utf8Number decodes the extended UTF-8 coded frame or sample number.
func utf8Number(b []byte) (uint64, int, bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	c := b[0]
	var n int
	var v uint64
	switch {
	case c < 0x80:
		return uint64(c), 1, true
	case c&0xE0 == 0xC0:
		n, v = 2, uint64(c&0x1F)
	case c&0xF0 == 0xE0:
		n, v = 3, uint64(c&0x0F)
	case c&0xF8 == 0xF0:
		n, v = 4, uint64(c&0x07)
	case c&0xFC == 0xF8:
		n, v = 5, uint64(c&0x03)
	case c&0xFE == 0xFC:
		n, v = 6, uint64(c&0x01)
	case c == 0xFE:
		n, v = 7, 0
	default:
		return 0, 0, false
	}
	if len(b) < n {
		return 0, 0, false
	}
	for i := 1; i < n; i++ {
		if b[i]&0xC0 != 0x80 {
			return 0, 0, false
		}
		v = v<<6 | uint64(b[i]&0x3F)
	}
	return v, n, true
}

// FindSync returns the offset of the first valid frame header in b at or
// after from.
func FindSync(b []byte, from int, info StreamInfo) (int, FrameHeader, bool) {
	for i := max(from, 0); i+6 <= len(b); i++ {
		if b[i] != 0xFF || b[i+1]&0xFE != 0xF8 {
			continue
		}
		if h, ok := ParseFrameHeader(b[i:], info); ok {
			return i, h, true
		}
	}
	return 0, FrameHeader{}, false
}

// SplitFrames cuts b into whole frames. A frame ends where the next valid
// header begins and its CRC-16 footer matches; a candidate that fails the
// CRC is treated as a false sync inside audio data. The last frame of b is
// only returned when final is set. Bytes before the first sync are skipped.
// consumed is the number of leading bytes covered by the returned frames
// plus skipped garbage.
func SplitFrames(b []byte, info StreamInfo, final bool) (frames [][]byte, consumed int) {
	start, h, ok := FindSync(b, 0, info)
	if !ok {
		if final {
			return nil, len(b)
		}
		// Keep a possible partial header at the tail.
		return nil, max(len(b)-maxHeaderLen, 0)
	}
	consumed = start

	for {
		search := start + h.Len
		var next int
		var nh FrameHeader
		found := false
		for {
			next, nh, ok = FindSync(b, search, info)
			if !ok {
				break
			}
			if frameCRCValid(b[start:next]) {
				found = true
				break
			}
			search = next + 1
		}

		if !found {
			switch {
			case final && frameCRCValid(b[start:]):
				frames = append(frames, b[start:])
				return frames, len(b)
			case final || len(b)-start > maxFrameLen(info):
				// No frame end can match: the header was a false sync.
				ns, nh, ok := FindSync(b, start+1, info)
				if !ok {
					if final {
						return frames, len(b)
					}
					return frames, max(len(b)-maxHeaderLen, start)
				}
				consumed, start, h = ns, ns, nh
				continue
			}
			return frames, consumed
		}

		frames = append(frames, b[start:next])
		consumed = next
		start, h = next, nh
	}
}

const maxHeaderLen = 16

// maxFrameLen bounds the size of one frame of the stream.
func maxFrameLen(info StreamInfo) int {
	if info.MaxFrameSize > 0 {
		return info.MaxFrameSize
	}
	// Verbatim subframes plus headers and padding.
	return info.MaxBlockSize*info.Channels*(info.BitsPerSample+7)/8 + 64
}

func frameCRCValid(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	body := len(frame) - 2
	return crc16(frame[:body]) == uint16(frame[body])<<8|uint16(frame[body+1])
}
