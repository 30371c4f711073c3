// SPDX-License-Identifier: EPL-2.0

package mp3

import (
	"bytes"
	"encoding/binary"
	"time"
)

// VBRInfo is the frame count and seek table carried by an Xing/Info or VBRI
// header in the first frame of a stream.
type VBRInfo struct {
	Kind   string // "Xing", "Info" or "VBRI"
	Frames int64
	Bytes  int64
	// toc maps percent of duration to a byte position: Xing stores 100
	// entries scaled to 256, VBRI stores cumulative byte offsets.
	toc       []float64
	tocScaled bool
}

// ParseVBR looks for an Xing/Info or VBRI header in frame, whose header h
// was already parsed. frame must hold the whole first frame.
func ParseVBR(frame []byte, h FrameHeader) (*VBRInfo, bool) {
	if off := 4 + h.sideInfoSize(); len(frame) >= off+8 {
		tag := string(frame[off : off+4])
		if tag == "Xing" || tag == "Info" {
			return parseXing(frame[off:], tag), true
		}
	}
	if len(frame) >= 4+32+26 && bytes.Equal(frame[36:40], []byte("VBRI")) {
		return parseVBRI(frame[36:]), true
	}
	return nil, false
}

func parseXing(b []byte, tag string) *VBRInfo {
	v := &VBRInfo{Kind: tag}
	flags := binary.BigEndian.Uint32(b[4:8])
	p := 8
	if flags&0x01 != 0 && len(b) >= p+4 {
		v.Frames = int64(binary.BigEndian.Uint32(b[p:]))
		p += 4
	}
	if flags&0x02 != 0 && len(b) >= p+4 {
		v.Bytes = int64(binary.BigEndian.Uint32(b[p:]))
		p += 4
	}
	if flags&0x04 != 0 && len(b) >= p+100 {
		v.toc = make([]float64, 100)
		for i := range 100 {
			v.toc[i] = float64(b[p+i])
		}
		v.tocScaled = true
	}
	return v
}

func parseVBRI(b []byte) *VBRInfo {
	v := &VBRInfo{Kind: "VBRI"}
	v.Bytes = int64(binary.BigEndian.Uint32(b[10:14]))
	v.Frames = int64(binary.BigEndian.Uint32(b[14:18]))
	entries := int(binary.BigEndian.Uint16(b[18:20]))
	scale := float64(binary.BigEndian.Uint16(b[20:22]))
	size := int(binary.BigEndian.Uint16(b[22:24]))

	if entries == 0 || size < 1 || size > 4 || len(b) < 26+entries*size {
		return v
	}
	v.toc = make([]float64, entries+1)
	var pos float64
	for i := range entries {
		var e uint32
		for j := range size {
			e = e<<8 | uint32(b[26+i*size+j])
		}
		pos += float64(e) * scale
		v.toc[i+1] = pos
	}
	return v
}

// Duration of the stream described by v given its frame header.
func (v *VBRInfo) Duration(h FrameHeader) time.Duration {
	if v == nil || v.Frames == 0 {
		return 0
	}
	return time.Duration(v.Frames*int64(h.Samples)) * time.Second / time.Duration(h.SampleRate)
}

// SeekOffset maps a fraction of the duration in [0,1] to a byte offset
// relative to the first audio frame. audioBytes is used when the header
// carries no byte count. ok is false without a seek table.
func (v *VBRInfo) SeekOffset(fraction float64, audioBytes int64) (int64, bool) {
	if v == nil || len(v.toc) == 0 {
		return 0, false
	}
	total := float64(v.Bytes)
	if total == 0 {
		total = float64(audioBytes)
	}
	fraction = min(max(fraction, 0), 1)

	if v.tocScaled {
		pct := fraction * 100
		i := min(int(pct), 99)
		a := v.toc[i]
		b := 256.0
		if i < 99 {
			b = v.toc[i+1]
		}
		pos := a + (b-a)*(pct-float64(i))
		return int64(pos / 256 * total), true
	}

	segs := float64(len(v.toc) - 1)
	x := fraction * segs
	i := min(int(x), len(v.toc)-2)
	pos := v.toc[i] + (v.toc[i+1]-v.toc[i])*(x-float64(i))
	return int64(pos), true
}
