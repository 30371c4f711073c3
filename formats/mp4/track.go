// SPDX-License-Identifier: EPL-2.0

package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/ik5/audwave/audio"
)

// maxTableSize bounds a single sample table box read into memory.
const maxTableSize = 256 << 20

var audioBrands = map[string]bool{
	"isom": true, "iso2": true, "iso3": true, "iso4": true, "iso5": true, "iso6": true,
	"mp41": true, "mp42": true, "M4A ": true, "M4B ": true, "M4P ": true, "M4V ": true,
	"qt  ": true, "3gp4": true, "3gp5": true, "3gp6": true, "dash": true, "avc1": true,
	"f4a ": true, "f4v ": true, "mmp4": true,
}

// Chunk is one sample table chunk: a run of consecutive samples stored
// back to back in the file.
type Chunk struct {
	Offset      int64
	FirstSample int64
	Count       int
}

type timeToSample struct {
	count int64
	delta int64
}

// Track is the sample index of the first sound track.
type Track struct {
	Codec         string // sample entry four-cc
	Channels      int
	SampleRate    int
	BitsPerSample int
	Timescale     int64
	Duration      int64 // in Timescale units
	// Format is set for PCM entries, which is what PCM reports.
	Format audio.SampleFormat
	// ObjectType is the esds object type indication of mp4a entries.
	ObjectType byte

	SampleCount int64
	Chunks      []Chunk

	constSize uint32
	sizes     []uint32
	stts      []timeToSample
}

// PCM reports whether samples are raw PCM that DecodePCM can convert.
func (t *Track) PCM() bool { return t.Format.Valid() }

// FrameBytes is the size of one interleaved PCM frame.
func (t *Track) FrameBytes() int { return t.Channels * t.Format.BytesPerSample() }

func (t *Track) Length() time.Duration {
	if t.Timescale == 0 {
		return 0
	}
	return time.Duration(float64(t.Duration) / float64(t.Timescale) * float64(time.Second))
}

// SampleSize returns the byte size of sample i.
func (t *Track) SampleSize(i int64) int64 {
	if t.sizes == nil {
		if t.PCM() && t.constSize <= 1 {
			return int64(t.FrameBytes())
		}
		return int64(t.constSize)
	}
	if i < 0 || i >= int64(len(t.sizes)) {
		return 0
	}
	return int64(t.sizes[i])
}

// SampleTime returns the decode time of sample i in Timescale units.
func (t *Track) SampleTime(i int64) int64 {
	var ts int64
	for _, e := range t.stts {
		if i < e.count {
			return ts + i*e.delta
		}
		ts += e.count * e.delta
		i -= e.count
	}
	return ts
}

// SampleAtTime returns the sample playing at ts (Timescale units) and that
// sample's exact start time.
func (t *Track) SampleAtTime(ts int64) (int64, int64) {
	var sample, start int64
	for _, e := range t.stts {
		span := e.count * e.delta
		if ts < start+span && e.delta > 0 {
			n := (ts - start) / e.delta
			return sample + n, start + n*e.delta
		}
		sample += e.count
		start += span
	}
	return t.SampleCount, start
}

// Cursor walks samples in file order.
type Cursor struct {
	t      *Track
	chunk  int
	sample int64
	off    int64
}

// CursorAt positions a cursor on sample i.
func (t *Track) CursorAt(i int64) Cursor {
	c := Cursor{t: t, sample: i}
	if i >= t.SampleCount || len(t.Chunks) == 0 {
		c.chunk = len(t.Chunks)
		c.sample = t.SampleCount
		return c
	}
	c.chunk = sort.Search(len(t.Chunks), func(k int) bool {
		return t.Chunks[k].FirstSample > i
	}) - 1
	ch := t.Chunks[c.chunk]
	c.off = ch.Offset
	if t.sizes == nil {
		c.off += (i - ch.FirstSample) * t.SampleSize(0)
	} else {
		for s := ch.FirstSample; s < i; s++ {
			c.off += int64(t.sizes[s])
		}
	}
	return c
}

func (c *Cursor) Done() bool     { return c.sample >= c.t.SampleCount }
func (c *Cursor) Sample() int64  { return c.sample }
func (c *Cursor) Offset() int64  { return c.off }
func (c *Cursor) Size() int64    { return c.t.SampleSize(c.sample) }
func (c *Cursor) End() int64     { return c.off + c.Size() }
func (c *Cursor) Chunk() int     { return c.chunk }
func (c *Cursor) Track() *Track  { return c.t }
func (c *Cursor) Advance() {
	if c.Done() {
		return
	}
	c.off += c.Size()
	c.sample++
	ch := c.t.Chunks[c.chunk]
	if c.sample >= ch.FirstSample+int64(ch.Count) && c.chunk+1 < len(c.t.Chunks) {
		c.chunk++
		c.off = c.t.Chunks[c.chunk].Offset
	}
}

// ParseFile validates the ftyp brand and indexes the first sound track.
func ParseFile(r io.ReaderAt, size int64) (*Track, error) {
	ftyp, err := readBox(r, 0, size)
	if err != nil || ftyp.typ != "ftyp" {
		return nil, ErrNotMP4File
	}
	body, err := readBody(r, ftyp, 4096)
	if err != nil {
		return nil, err
	}
	if !brandOK(body) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBrand, body[:min(4, len(body))])
	}

	moov, ok, err := find(r, ftyp.end, size, "moov")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSoundTrack
	}

	var track *Track
	err = children(r, moov.body, moov.end, func(h boxHeader) (bool, error) {
		if h.typ != "trak" {
			return true, nil
		}
		t, err := parseTrak(r, h)
		if err != nil {
			return false, err
		}
		if t != nil {
			track = t
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, ErrNoSoundTrack
	}
	return track, nil
}

func brandOK(ftyp []byte) bool {
	if len(ftyp) < 8 {
		return false
	}
	if audioBrands[string(ftyp[0:4])] {
		return true
	}
	for p := 8; p+4 <= len(ftyp); p += 4 {
		if audioBrands[string(ftyp[p:p+4])] {
			return true
		}
	}
	return false
}

// parseTrak returns nil without error for non-sound tracks.
func parseTrak(r io.ReaderAt, trak boxHeader) (*Track, error) {
	mdia, ok, err := find(r, trak.body, trak.end, "mdia")
	if err != nil || !ok {
		return nil, err
	}
	hdlr, ok, err := find(r, mdia.body, mdia.end, "hdlr")
	if err != nil || !ok {
		return nil, err
	}
	hb, err := readBody(r, hdlr, 1<<16)
	if err != nil {
		return nil, err
	}
	if len(hb) < 12 || string(hb[8:12]) != "soun" {
		return nil, nil
	}

	t := &Track{}
	mdhd, ok, err := find(r, mdia.body, mdia.end, "mdhd")
	if err != nil {
		return nil, err
	}
	if ok {
		b, err := readBody(r, mdhd, 1<<10)
		if err != nil {
			return nil, err
		}
		if err := t.parseMdhd(b); err != nil {
			return nil, err
		}
	}

	minf, ok, err := find(r, mdia.body, mdia.end, "minf")
	if err != nil || !ok {
		return nil, orMalformed(err)
	}
	stbl, ok, err := find(r, minf.body, minf.end, "stbl")
	if err != nil || !ok {
		return nil, orMalformed(err)
	}

	tables := map[string][]byte{}
	err = children(r, stbl.body, stbl.end, func(h boxHeader) (bool, error) {
		switch h.typ {
		case "stsd", "stts", "stsc", "stsz", "stco", "co64":
			b, err := readBody(r, h, maxTableSize)
			if err != nil {
				return false, err
			}
			tables[h.typ] = b
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := t.parseStsd(tables["stsd"]); err != nil {
		return nil, err
	}
	if err := t.parseStts(tables["stts"]); err != nil {
		return nil, err
	}
	if err := t.parseStsz(tables["stsz"]); err != nil {
		return nil, err
	}
	offsets, err := parseOffsets(tables["stco"], tables["co64"])
	if err != nil {
		return nil, err
	}
	if err := t.buildChunks(tables["stsc"], offsets); err != nil {
		return nil, err
	}

	if t.Timescale == 0 {
		t.Timescale = int64(t.SampleRate)
	}
	if t.Duration == 0 {
		t.Duration = t.SampleTime(t.SampleCount)
	}
	return t, nil
}

func orMalformed(err error) error {
	if err != nil {
		return err
	}
	return ErrMalformedBox
}

func (t *Track) parseMdhd(b []byte) error {
	if len(b) < 24 {
		return ErrMalformedBox
	}
	if b[0] == 1 {
		if len(b) < 36 {
			return ErrMalformedBox
		}
		t.Timescale = int64(binary.BigEndian.Uint32(b[20:24]))
		t.Duration = int64(binary.BigEndian.Uint64(b[24:32]))
		return nil
	}
	t.Timescale = int64(binary.BigEndian.Uint32(b[12:16]))
	t.Duration = int64(binary.BigEndian.Uint32(b[16:20]))
	return nil
}

func (t *Track) parseStsd(b []byte) error {
	if len(b) < 8+8+28 {
		return ErrMalformedBox
	}
	entry := b[8:]
	size := int(binary.BigEndian.Uint32(entry[0:4]))
	if size < 8+28 || size > len(entry) {
		return ErrMalformedBox
	}
	t.Codec = string(entry[4:8])
	e := entry[8:size]

	version := binary.BigEndian.Uint16(e[8:10])
	t.Channels = int(binary.BigEndian.Uint16(e[16:18]))
	t.BitsPerSample = int(binary.BigEndian.Uint16(e[18:20]))
	t.SampleRate = int(binary.BigEndian.Uint32(e[24:28]) >> 16)

	ext := 28
	var lpcmFlags uint32
	switch version {
	case 1:
		ext = 44
	case 2:
		if len(e) < 64 {
			return ErrMalformedBox
		}
		t.SampleRate = int(math.Float64frombits(binary.BigEndian.Uint64(e[32:40])))
		t.Channels = int(binary.BigEndian.Uint32(e[40:44]))
		t.BitsPerSample = int(binary.BigEndian.Uint32(e[48:52]))
		lpcmFlags = binary.BigEndian.Uint32(e[52:56])
		ext = 64
	}
	ext = min(ext, len(e))
	if t.Channels == 0 {
		return ErrMalformedBox
	}

	little := hasEnda(e[ext:])
	switch t.Codec {
	case "sowt":
		t.Format = audio.SampleFormat{Bits: t.BitsPerSample}
	case "twos":
		t.Format = audio.SampleFormat{Bits: t.BitsPerSample, BigEndian: true}
	case "raw ":
		t.Format = audio.SampleFormat{Bits: 8, Unsigned: true}
	case "in24":
		t.Format = audio.SampleFormat{Bits: 24, BigEndian: !little}
	case "in32":
		t.Format = audio.SampleFormat{Bits: 32, BigEndian: !little}
	case "fl32":
		t.Format = audio.SampleFormat{Bits: 32, Float: true, BigEndian: !little}
	case "fl64":
		t.Format = audio.SampleFormat{Bits: 64, Float: true, BigEndian: !little}
	case "lpcm":
		t.Format = audio.SampleFormat{
			Bits:      t.BitsPerSample,
			Float:     lpcmFlags&0x01 != 0,
			BigEndian: lpcmFlags&0x02 != 0,
		}
	case "mp4a":
		t.ObjectType = esdsObjectType(e[ext:])
	}
	if t.Format.Valid() {
		t.BitsPerSample = t.Format.Bits
	}
	return nil
}

// hasEnda looks for an 'enda' atom, directly or inside 'wave', that marks
// little-endian QuickTime PCM.
func hasEnda(b []byte) bool {
	for p := 0; p+8 <= len(b); {
		size := int(binary.BigEndian.Uint32(b[p:]))
		typ := string(b[p+4 : p+8])
		if size < 8 || p+size > len(b) {
			return false
		}
		switch typ {
		case "enda":
			return size >= 10 && binary.BigEndian.Uint16(b[p+8:]) == 1
		case "wave":
			if hasEnda(b[p+8 : p+size]) {
				return true
			}
		}
		p += size
	}
	return false
}

// esdsObjectType extracts the DecoderConfigDescriptor object type from an
// esds box among the sample entry's children.
func esdsObjectType(b []byte) byte {
	for p := 0; p+8 <= len(b); {
		size := int(binary.BigEndian.Uint32(b[p:]))
		if size < 8 || p+size > len(b) {
			return 0
		}
		if string(b[p+4:p+8]) == "esds" {
			d := b[p+12 : p+size]
			for i := 0; i+2 < len(d); i++ {
				if d[i] == 0x04 {
					// Skip the expandable length bytes.
					j := i + 1
					for j < len(d) && d[j]&0x80 != 0 {
						j++
					}
					if j+1 < len(d) {
						return d[j+1]
					}
				}
			}
			return 0
		}
		p += size
	}
	return 0
}

func (t *Track) parseStts(b []byte) error {
	if len(b) < 8 {
		return ErrMalformedBox
	}
	n := int(binary.BigEndian.Uint32(b[4:8]))
	if len(b) < 8+n*8 {
		return ErrMalformedBox
	}
	t.stts = make([]timeToSample, n)
	for i := range n {
		t.stts[i] = timeToSample{
			count: int64(binary.BigEndian.Uint32(b[8+i*8:])),
			delta: int64(binary.BigEndian.Uint32(b[12+i*8:])),
		}
	}
	return nil
}

func (t *Track) parseStsz(b []byte) error {
	if len(b) < 12 {
		return ErrMalformedBox
	}
	t.constSize = binary.BigEndian.Uint32(b[4:8])
	t.SampleCount = int64(binary.BigEndian.Uint32(b[8:12]))
	if t.constSize != 0 {
		return nil
	}
	if int64(len(b)) < 12+t.SampleCount*4 {
		return ErrMalformedBox
	}
	t.sizes = make([]uint32, t.SampleCount)
	for i := range t.sizes {
		t.sizes[i] = binary.BigEndian.Uint32(b[12+i*4:])
	}
	return nil
}

func parseOffsets(stco, co64 []byte) ([]int64, error) {
	switch {
	case stco != nil:
		if len(stco) < 8 {
			return nil, ErrMalformedBox
		}
		n := int(binary.BigEndian.Uint32(stco[4:8]))
		if len(stco) < 8+n*4 {
			return nil, ErrMalformedBox
		}
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.BigEndian.Uint32(stco[8+i*4:]))
		}
		return out, nil
	case co64 != nil:
		if len(co64) < 8 {
			return nil, ErrMalformedBox
		}
		n := int(binary.BigEndian.Uint32(co64[4:8]))
		if len(co64) < 8+n*8 {
			return nil, ErrMalformedBox
		}
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.BigEndian.Uint64(co64[8+i*8:]))
		}
		return out, nil
	}
	return nil, ErrMalformedBox
}

// buildChunks expands the sample-to-chunk runs into one entry per chunk.
func (t *Track) buildChunks(stsc []byte, offsets []int64) error {
	if len(stsc) < 8 {
		return ErrMalformedBox
	}
	n := int(binary.BigEndian.Uint32(stsc[4:8]))
	if len(stsc) < 8+n*12 || n == 0 {
		return ErrMalformedBox
	}

	t.Chunks = make([]Chunk, 0, len(offsets))
	var sample int64
	for i := range n {
		first := int(binary.BigEndian.Uint32(stsc[8+i*12:])) - 1
		per := int(binary.BigEndian.Uint32(stsc[12+i*12:]))
		last := len(offsets)
		if i+1 < n {
			last = int(binary.BigEndian.Uint32(stsc[8+(i+1)*12:])) - 1
		}
		if first < 0 || last > len(offsets) || first > last {
			return ErrMalformedBox
		}
		for c := first; c < last && sample < t.SampleCount; c++ {
			count := int(min(int64(per), t.SampleCount-sample))
			t.Chunks = append(t.Chunks, Chunk{Offset: offsets[c], FirstSample: sample, Count: count})
			sample += int64(count)
		}
	}
	if sample < t.SampleCount {
		t.SampleCount = sample
	}
	return nil
}
