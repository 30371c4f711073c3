// SPDX-License-Identifier: EPL-2.0

package ogg

import (
	"fmt"
	"io"
)

// LastGranule returns the granule position of the last page of the stream
// with the given serial that finishes a packet. It reads backwards from the
// end of r in page-sized windows.
func LastGranule(r io.ReaderAt, size int64, serial uint32) (int64, bool, error) {
	buf := make([]byte, 2*MaxPageSize)
	for end := size; end > 0; end -= MaxPageSize {
		start := max(end-int64(len(buf)), 0)
		n, err := r.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, false, fmt.Errorf("reading ogg tail at %d: %w", start, err)
		}

		best, found := int64(0), false
		for off := 0; ; {
			i, p, _, ok := FindPage(buf[:n], off)
			if !ok {
				break
			}
			if p.Serial == serial && p.Granule != -1 {
				best, found = p.Granule, true
			}
			off = i + p.Size
		}
		if found {
			return best, true, nil
		}
		if start == 0 {
			break
		}
	}
	return 0, false, nil
}

// SeekPoint is where decoding resumes after Bisect.
type SeekPoint struct {
	Offset  int64 // start of the page to resume from
	Granule int64 // granule reached at the end of the preceding page
}

// Bisect finds the page to resume decoding from so that sample target is
// covered. The returned page follows the last page whose granule is below
// target, so decoding from Offset yields samples starting at Granule.
// dataStart is the offset of the first audio page.
func Bisect(r io.ReaderAt, dataStart, size int64, serial uint32, target int64) (SeekPoint, error) {
	lo, hi := dataStart, size
	best := SeekPoint{Offset: dataStart, Granule: 0}
	buf := make([]byte, 2*MaxPageSize)

	for hi-lo > MaxPageSize/4 {
		mid := lo + (hi-lo)/2
		off, p, ok, err := pageAt(r, buf, mid, size, serial)
		if err != nil {
			return best, err
		}
		if !ok || off >= hi {
			hi = mid
			continue
		}
		if p.Granule < target {
			best = SeekPoint{Offset: off + int64(p.Size), Granule: p.Granule}
			lo = off + int64(p.Size)
		} else {
			hi = mid
		}
	}

	// Linear walk over the remaining window.
	for pos := best.Offset; pos < size; {
		off, p, ok, err := pageAt(r, buf, pos, size, serial)
		if err != nil {
			return best, err
		}
		if !ok || p.Granule >= target {
			break
		}
		best = SeekPoint{Offset: off + int64(p.Size), Granule: p.Granule}
		pos = off + int64(p.Size)
	}
	return best, nil
}

// pageAt returns the first page of serial with a known granule at or after
// pos.
func pageAt(r io.ReaderAt, buf []byte, pos, size int64, serial uint32) (int64, Page, bool, error) {
	for pos < size {
		n, err := r.ReadAt(buf[:min(int64(len(buf)), size-pos)], pos)
		if err != nil && err != io.EOF {
			return 0, Page{}, false, fmt.Errorf("reading ogg page at %d: %w", pos, err)
		}
		b := buf[:n]
		for off := 0; off < len(b); {
			i, p, _, ok := FindPage(b, off)
			if !ok {
				break
			}
			if p.Serial == serial && p.Granule != -1 {
				return pos + int64(i), p, true, nil
			}
			off = i + p.Size
		}
		if n < len(buf) {
			break
		}
		pos += int64(n - MaxPageSize)
	}
	return 0, Page{}, false, nil
}
