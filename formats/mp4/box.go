// SPDX-License-Identifier: EPL-2.0

package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
)

type boxHeader struct {
	typ    string
	offset int64 // start of the header
	body   int64 // start of the payload
	end    int64
}

func (b boxHeader) size() int64 { return b.end - b.body }

// readBox reads the box header at off. end bounds the parent.
func readBox(r io.ReaderAt, off, end int64) (boxHeader, error) {
	var buf [16]byte
	if off+8 > end {
		return boxHeader{}, ErrMalformedBox
	}
	if _, err := r.ReadAt(buf[:8], off); err != nil {
		return boxHeader{}, fmt.Errorf("%w: %w", ErrMalformedBox, err)
	}
	h := boxHeader{typ: string(buf[4:8]), offset: off, body: off + 8}
	size := int64(binary.BigEndian.Uint32(buf[0:4]))
	switch size {
	case 0:
		h.end = end
	case 1:
		if off+16 > end {
			return boxHeader{}, ErrMalformedBox
		}
		if _, err := r.ReadAt(buf[8:16], off+8); err != nil {
			return boxHeader{}, fmt.Errorf("%w: %w", ErrMalformedBox, err)
		}
		h.body = off + 16
		h.end = off + int64(binary.BigEndian.Uint64(buf[8:16]))
	default:
		h.end = off + size
	}
	if h.end < h.body || h.end > end {
		return boxHeader{}, ErrMalformedBox
	}
	return h, nil
}

// children iterates the boxes inside [start, end), calling fn for each.
// Returning false from fn stops the walk.
func children(r io.ReaderAt, start, end int64, fn func(boxHeader) (bool, error)) error {
	for off := start; off+8 <= end; {
		h, err := readBox(r, off, end)
		if err != nil {
			return err
		}
		more, err := fn(h)
		if err != nil || !more {
			return err
		}
		off = h.end
	}
	return nil
}

// find returns the first child of the given type.
func find(r io.ReaderAt, start, end int64, typ string) (boxHeader, bool, error) {
	var found boxHeader
	ok := false
	err := children(r, start, end, func(h boxHeader) (bool, error) {
		if h.typ == typ {
			found, ok = h, true
			return false, nil
		}
		return true, nil
	})
	return found, ok, err
}

func readBody(r io.ReaderAt, h boxHeader, limit int64) ([]byte, error) {
	if h.size() > limit {
		return nil, ErrMalformedBox
	}
	buf := make([]byte, h.size())
	if _, err := r.ReadAt(buf, h.body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBox, err)
	}
	return buf, nil
}
