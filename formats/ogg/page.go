// SPDX-License-Identifier: EPL-2.0

package ogg

import (
	"bytes"
	"encoding/binary"
)

// Header type flags.
const (
	FlagContinued = 0x01
	FlagBOS       = 0x02
	FlagEOS       = 0x04
)

// HeaderSize is the fixed part of a page header.
const HeaderSize = 27

// MaxPageSize bounds a page: header, 255 lacing values, 255*255 body bytes.
const MaxPageSize = HeaderSize + 255 + 255*255

var capture = []byte("OggS")

// Page is one parsed Ogg page. Body aliases the parsed buffer.
type Page struct {
	Type    byte
	Granule int64 // -1 when no packet finishes on this page
	Serial  uint32
	Seq     uint32
	Lacing  []byte
	Body    []byte
	Size    int // total bytes, header included
}

func (p Page) Continued() bool { return p.Type&FlagContinued != 0 }
func (p Page) BOS() bool       { return p.Type&FlagBOS != 0 }
func (p Page) EOS() bool       { return p.Type&FlagEOS != 0 }

// ParsePage decodes the page at the start of b and verifies its checksum.
func ParsePage(b []byte) (Page, error) {
	var p Page
	if len(b) < 4 || !bytes.Equal(b[:4], capture) {
		return p, ErrNotOggPage
	}
	if len(b) < HeaderSize {
		return p, ErrIncompletePage
	}
	if b[4] != 0 {
		return p, ErrUnsupportedVersion
	}
	nsegs := int(b[26])
	if len(b) < HeaderSize+nsegs {
		return p, ErrIncompletePage
	}
	p.Lacing = b[HeaderSize : HeaderSize+nsegs]
	bodyLen := 0
	for _, l := range p.Lacing {
		bodyLen += int(l)
	}
	p.Size = HeaderSize + nsegs + bodyLen
	if len(b) < p.Size {
		return p, ErrIncompletePage
	}

	if Checksum(b[:p.Size]) != binary.LittleEndian.Uint32(b[22:26]) {
		return p, ErrBadChecksum
	}

	p.Type = b[5]
	p.Granule = int64(binary.LittleEndian.Uint64(b[6:14]))
	p.Serial = binary.LittleEndian.Uint32(b[14:18])
	p.Seq = binary.LittleEndian.Uint32(b[18:22])
	p.Body = b[HeaderSize+nsegs : p.Size]
	return p, nil
}

// FindPage returns the first complete, valid page at or after from. When
// more is true the scan stopped at an incomplete page that may complete once
// more data is available; its offset is returned.
func FindPage(b []byte, from int) (off int, p Page, more bool, ok bool) {
	for i := max(from, 0); i < len(b); {
		j := bytes.Index(b[i:], capture)
		if j < 0 {
			// A capture pattern may straddle the end.
			tail := max(len(b)-3, i)
			return tail, Page{}, true, false
		}
		i += j
		p, err := ParsePage(b[i:])
		switch err {
		case nil:
			return i, p, false, true
		case ErrIncompletePage:
			return i, Page{}, true, false
		}
		i++
	}
	return len(b), Page{}, true, false
}

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// Checksum computes the page CRC-32 with the checksum field read as zero.
func Checksum(page []byte) uint32 {
	var crc uint32
	for i, v := range page {
		if i >= 22 && i < 26 {
			v = 0
		}
		crc = crc<<8 ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}
