// SPDX-License-Identifier: EPL-2.0

package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// WAV16 builds a canonical 44-byte-header PCM 16-bit WAV file.
func WAV16(sampleRate, channels int, samples []int16) []byte {
	return WAVWithChunks(sampleRate, channels, samples, nil)
}

// WAVWithChunks builds a 16-bit WAV with extra chunks placed between "fmt "
// and "data". Each extra chunk is id (4 bytes) followed by its payload.
func WAVWithChunks(sampleRate, channels int, samples []int16, extra map[string][]byte) []byte {
	var chunks bytes.Buffer
	for id, payload := range extra {
		chunks.WriteString(id)
		binary.Write(&chunks, binary.LittleEndian, uint32(len(payload)))
		chunks.Write(payload)
		if len(payload)%2 == 1 {
			chunks.WriteByte(0)
		}
	}

	dataSize := uint32(len(samples) * 2)
	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+chunks.Len())+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.Write(chunks.Bytes())

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// WriteSparseWAV creates a 16-bit WAV at path whose data chunk holds
// dataBytes of silence. The data region is a filesystem hole, so very large
// files cost no disk space.
func WriteSparseWAV(tb testing.TB, path string, sampleRate, channels int, dataBytes int64) {
	tb.Helper()

	hdr := WAV16(sampleRate, channels, nil)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataBytes))
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataBytes))

	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.Write(hdr); err != nil {
		tb.Fatalf("write header: %v", err)
	}
	if err := f.Truncate(int64(len(hdr)) + dataBytes); err != nil {
		tb.Fatalf("truncate: %v", err)
	}
}

// AIFF16 builds an AIFF file with big-endian 16-bit samples.
func AIFF16(sampleRate, channels int, samples []int16) []byte {
	frames := len(samples) / max(channels, 1)

	comm := new(bytes.Buffer)
	binary.Write(comm, binary.BigEndian, uint16(channels))
	binary.Write(comm, binary.BigEndian, uint32(frames))
	binary.Write(comm, binary.BigEndian, uint16(16))
	comm.Write(Float80(float64(sampleRate)))

	ssnd := new(bytes.Buffer)
	binary.Write(ssnd, binary.BigEndian, uint32(0)) // offset
	binary.Write(ssnd, binary.BigEndian, uint32(0)) // block size
	for _, s := range samples {
		binary.Write(ssnd, binary.BigEndian, s)
	}

	body := new(bytes.Buffer)
	body.WriteString("AIFF")
	body.WriteString("COMM")
	binary.Write(body, binary.BigEndian, uint32(comm.Len()))
	body.Write(comm.Bytes())
	body.WriteString("SSND")
	binary.Write(body, binary.BigEndian, uint32(ssnd.Len()))
	body.Write(ssnd.Bytes())

	out := new(bytes.Buffer)
	out.WriteString("FORM")
	binary.Write(out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// Float80 encodes v as an IEEE 754 80-bit extended float, as used by AIFF.
func Float80(v float64) []byte {
	out := make([]byte, 10)
	if v == 0 {
		return out
	}
	frac, exp := math.Frexp(v) // v = frac * 2^exp, frac in [0.5, 1)
	binary.BigEndian.PutUint16(out[0:2], uint16(exp-1+16383))
	binary.BigEndian.PutUint64(out[2:10], uint64(frac*(1<<64)))
	return out
}

// Silent MPEG-1 Layer III frames: 128 kbit/s, 48 kHz, mono. Each frame is
// MP3FrameSize bytes and decodes to MP3FrameSamples samples of silence.
const (
	MP3FrameSize    = 384
	MP3FrameSamples = 1152
	MP3SampleRate   = 48000
)

var mp3Header = []byte{0xFF, 0xFB, 0x94, 0xC4}

// MP3Options tunes MP3Frames.
type MP3Options struct {
	ID3v2Size int  // bytes of ID3v2 tag payload to prepend (0 = none)
	Xing      bool // prepend an Xing/Info frame with a 100-entry TOC
	ID3v1     bool // append a 128-byte ID3v1 trailer
}

// MP3Frames builds a stream of n silent frames.
func MP3Frames(n int, opts MP3Options) []byte {
	out := new(bytes.Buffer)

	if opts.ID3v2Size > 0 {
		out.WriteString("ID3")
		out.Write([]byte{4, 0, 0})
		size := opts.ID3v2Size
		out.Write([]byte{byte(size >> 21 & 0x7F), byte(size >> 14 & 0x7F), byte(size >> 7 & 0x7F), byte(size & 0x7F)})
		out.Write(make([]byte, size))
	}

	if opts.Xing {
		frame := make([]byte, MP3FrameSize)
		copy(frame, mp3Header)
		x := frame[4+17:]
		copy(x, "Xing")
		binary.BigEndian.PutUint32(x[4:], 0x07) // frames, bytes, toc
		binary.BigEndian.PutUint32(x[8:], uint32(n))
		binary.BigEndian.PutUint32(x[12:], uint32(n*MP3FrameSize))
		for i := range 100 {
			x[16+i] = byte(i * 256 / 100)
		}
		out.Write(frame)
	}

	for range n {
		frame := make([]byte, MP3FrameSize)
		copy(frame, mp3Header)
		out.Write(frame)
	}

	if opts.ID3v1 {
		tag := make([]byte, 128)
		copy(tag, "TAG")
		out.Write(tag)
	}
	return out.Bytes()
}

// FLACOptions tunes FLAC16.
type FLACOptions struct {
	BlockSize int  // samples per channel per frame (default 1024)
	SeekTable bool // emit a SEEKTABLE with one point per frame
}

// FLAC16 builds a FLAC stream of verbatim 16-bit frames with a fixed block
// size. Frame headers carry explicit sample rate and sample size.
func FLAC16(sampleRate, channels int, samples []int16, opts FLACOptions) []byte {
	bs := opts.BlockSize
	if bs <= 0 {
		bs = 1024
	}
	total := len(samples) / channels

	var frames [][]byte
	for start, num := 0, 0; start < total; start, num = start+bs, num+1 {
		n := min(bs, total-start)
		frames = append(frames, flacFrame(sampleRate, channels, num, samples[start*channels:(start+n)*channels]))
	}

	out := new(bytes.Buffer)
	out.WriteString("fLaC")

	info := make([]byte, 34)
	binary.BigEndian.PutUint16(info[0:], uint16(bs))
	binary.BigEndian.PutUint16(info[2:], uint16(bs))
	// sample rate (20) | channels-1 (3) | bps-1 (5) | total samples (36)
	packed := uint64(sampleRate)<<44 | uint64(channels-1)<<41 | uint64(15)<<36 | uint64(total)
	binary.BigEndian.PutUint64(info[10:], packed)

	last := byte(0x80)
	if opts.SeekTable {
		last = 0
	}
	out.Write([]byte{last, 0, 0, 34})
	out.Write(info)

	if opts.SeekTable {
		size := 18 * len(frames)
		out.Write([]byte{0x80 | 3, byte(size >> 16), byte(size >> 8), byte(size)})
		var offset uint64
		for i, f := range frames {
			pt := make([]byte, 18)
			binary.BigEndian.PutUint64(pt[0:], uint64(i*bs))
			binary.BigEndian.PutUint64(pt[8:], offset)
			binary.BigEndian.PutUint16(pt[16:], uint16(min(bs, total-i*bs)))
			out.Write(pt)
			offset += uint64(len(f))
		}
	}

	for _, f := range frames {
		out.Write(f)
	}
	return out.Bytes()
}

var flacRateCodes = map[int]byte{
	88200: 1, 176400: 2, 192000: 3, 8000: 4, 16000: 5, 22050: 6,
	24000: 7, 32000: 8, 44100: 9, 48000: 10, 96000: 11,
}

func flacFrame(sampleRate, channels, num int, interleaved []int16) []byte {
	n := len(interleaved) / channels
	h := new(bytes.Buffer)
	h.Write([]byte{0xFF, 0xF8})

	rateCode, ok := flacRateCodes[sampleRate]
	if !ok {
		rateCode = 13 // 16-bit Hz at end of header
	}
	h.WriteByte(7<<4 | rateCode)            // block size: 16-bit (n-1) at end
	h.WriteByte(byte(channels-1)<<4 | 4<<1) // independent channels, 16 bps
	h.Write(utf8Number(uint64(num)))
	binary.Write(h, binary.BigEndian, uint16(n-1))
	if !ok {
		binary.Write(h, binary.BigEndian, uint16(sampleRate))
	}
	h.WriteByte(CRC8(h.Bytes()))

	for c := range channels {
		h.WriteByte(0x02) // verbatim subframe, no wasted bits
		for i := range n {
			binary.Write(h, binary.BigEndian, interleaved[i*channels+c])
		}
	}
	binary.Write(h, binary.BigEndian, CRC16(h.Bytes()))
	return h.Bytes()
}

func utf8Number(v uint64) []byte {
	if v < 0x80 {
		return []byte{byte(v)}
	}
	var n int
	switch {
	case v < 1<<11:
		n = 2
	case v < 1<<16:
		n = 3
	case v < 1<<21:
		n = 4
	case v < 1<<26:
		n = 5
	case v < 1<<31:
		n = 6
	default:
		n = 7
	}
	out := make([]byte, n)
	for i := n - 1; i > 0; i-- {
		out[i] = 0x80 | byte(v&0x3F)
		v >>= 6
	}
	out[0] = byte(0xFF<<(8-n)) | byte(v)
	return out
}

// CRC8 is the FLAC frame header checksum (polynomial 0x07).
func CRC8(b []byte) byte {
	var crc byte
	for _, v := range b {
		crc ^= v
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16 is the FLAC frame footer checksum (polynomial 0x8005).
func CRC16(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc ^= uint16(v) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Ogg page header type flags.
const (
	OggContinued = 0x01
	OggBOS       = 0x02
	OggEOS       = 0x04
)

// OggPage describes one page for OggPageBytes.
type OggPage struct {
	Type    byte
	Granule int64
	Serial  uint32
	Seq     uint32
	Lacing  []byte
	Body    []byte
}

// Lace computes lacing values and body for complete packets.
func Lace(packets ...[]byte) (lacing, body []byte) {
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body = append(body, p...)
	}
	return lacing, body
}

// OggPageBytes serialises p with a valid CRC.
func OggPageBytes(p OggPage) []byte {
	out := make([]byte, 27, 27+len(p.Lacing)+len(p.Body))
	copy(out, "OggS")
	out[5] = p.Type
	binary.LittleEndian.PutUint64(out[6:], uint64(p.Granule))
	binary.LittleEndian.PutUint32(out[14:], p.Serial)
	binary.LittleEndian.PutUint32(out[18:], p.Seq)
	out[26] = byte(len(p.Lacing))
	out = append(out, p.Lacing...)
	out = append(out, p.Body...)
	binary.LittleEndian.PutUint32(out[22:], OggCRC(out))
	return out
}

// OggStream builds a logical stream where the first packet sits alone on a
// BOS page and every following page carries perPage packets. granuleStep is
// added to the granule position for every audio packet.
func OggStream(serial uint32, head []byte, packets [][]byte, perPage int, granuleStep int64) []byte {
	out := new(bytes.Buffer)
	lacing, body := Lace(head)
	out.Write(OggPageBytes(OggPage{Type: OggBOS, Serial: serial, Lacing: lacing, Body: body}))

	var granule int64
	seq := uint32(1)
	for i := 0; i < len(packets); i += perPage {
		end := min(i+perPage, len(packets))
		lacing, body := Lace(packets[i:end]...)
		granule += granuleStep * int64(end-i)
		typ := byte(0)
		if end == len(packets) {
			typ = OggEOS
		}
		out.Write(OggPageBytes(OggPage{Type: typ, Granule: granule, Serial: serial, Seq: seq, Lacing: lacing, Body: body}))
		seq++
	}
	return out.Bytes()
}

var oggTable = func() [256]uint32 {
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

// OggCRC computes the page checksum with the CRC field treated as zero.
func OggCRC(page []byte) uint32 {
	var crc uint32
	for i, b := range page {
		if i >= 22 && i < 26 {
			b = 0
		}
		crc = crc<<8 ^ oggTable[byte(crc>>24)^b]
	}
	return crc
}

// OpusHead builds an Opus identification header packet.
func OpusHead(channels int, preSkip uint16, inputRate uint32) []byte {
	p := make([]byte, 19)
	copy(p, "OpusHead")
	p[8] = 1
	p[9] = byte(channels)
	binary.LittleEndian.PutUint16(p[10:], preSkip)
	binary.LittleEndian.PutUint32(p[12:], inputRate)
	return p
}

// MP4Options tunes MP4.
type MP4Options struct {
	Codec           string // sample entry type: "sowt" (default), "twos" or "mp4a"
	SamplesPerChunk int    // frames per chunk (default 1024)
	Brand           string // major brand (default "M4A ")
	Co64            bool   // use 64-bit chunk offsets
}

// MP4 builds an ISO-BMFF file with one sound track. For PCM entries every
// sample is one 16-bit frame; samples must be interleaved int16.
func MP4(sampleRate, channels int, samples []int16, opts MP4Options) []byte {
	codec := opts.Codec
	if codec == "" {
		codec = "sowt"
	}
	spc := opts.SamplesPerChunk
	if spc <= 0 {
		spc = 1024
	}
	brand := opts.Brand
	if brand == "" {
		brand = "M4A "
	}

	frames := len(samples) / channels
	frameBytes := channels * 2
	order := binary.AppendByteOrder(binary.LittleEndian)
	if codec == "twos" {
		order = binary.BigEndian
	}

	mdatBody := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		mdatBody = order.AppendUint16(mdatBody, uint16(s))
	}

	chunks := (frames + spc - 1) / spc
	ftyp := box("ftyp", []byte(brand), u32(0), []byte("isom"), []byte(brand))

	build := func(base int) []byte {
		entry := new(bytes.Buffer)
		entry.Write(make([]byte, 6))
		entry.Write(u16(1))
		entry.Write(make([]byte, 8)) // version, revision, vendor
		entry.Write(u16(uint16(channels)))
		entry.Write(u16(16))
		entry.Write(make([]byte, 4)) // compression id, packet size
		entry.Write(u32(uint32(sampleRate) << 16))
		if codec == "mp4a" {
			entry.Write(box("esds", u32(0), []byte{0x03, 0x19, 0, 1, 0, 0x04, 0x11, 0x40, 0x15}, make([]byte, 13), []byte{0x05, 0x02, 0x11, 0x90}))
		}
		stsd := box("stsd", u32(0), u32(1), box(codec, entry.Bytes()))

		stts := box("stts", u32(0), u32(1), u32(uint32(frames)), u32(1))

		var stscEntries [][]byte
		stscEntries = append(stscEntries, u32(1), u32(uint32(spc)), u32(1))
		if rem := frames % spc; rem != 0 && chunks > 1 {
			stscEntries = append(stscEntries, u32(uint32(chunks)), u32(uint32(rem)), u32(1))
		} else if rem != 0 {
			stscEntries[1] = u32(uint32(rem))
		}
		stsc := box("stsc", append([][]byte{u32(0), u32(uint32(len(stscEntries) / 3))}, stscEntries...)...)

		stsz := box("stsz", u32(0), u32(uint32(frameBytes)), u32(uint32(frames)))

		var offsets [][]byte
		kind := "stco"
		if opts.Co64 {
			kind = "co64"
		}
		offsets = append(offsets, u32(0), u32(uint32(chunks)))
		for c := range chunks {
			off := base + c*spc*frameBytes
			if opts.Co64 {
				offsets = append(offsets, u64(uint64(off)))
			} else {
				offsets = append(offsets, u32(uint32(off)))
			}
		}
		stco := box(kind, offsets...)

		mdhd := box("mdhd", u32(0), u32(0), u32(0), u32(uint32(sampleRate)), u32(uint32(frames)), u16(0x55C4), u16(0))
		hdlr := box("hdlr", u32(0), u32(0), []byte("soun"), make([]byte, 12), []byte{0})
		stbl := box("stbl", stsd, stts, stsc, stsz, stco)
		minf := box("minf", stbl)
		mdia := box("mdia", mdhd, hdlr, minf)
		trak := box("trak", mdia)
		return box("moov", trak)
	}

	moov := build(0)
	base := len(ftyp) + len(moov) + 8
	moov = build(base)

	out := new(bytes.Buffer)
	out.Write(ftyp)
	out.Write(moov)
	out.Write(box("mdat", mdatBody))
	return out.Bytes()
}

func box(typ string, parts ...[]byte) []byte {
	size := 8
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(size))
	out = append(out, typ...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

// SineInt16 returns interleaved 16-bit samples of a sine at freq Hz with the
// given peak amplitude in [0,1], identical on every channel.
func SineInt16(sampleRate, channels, frames int, freq, amp float64) []int16 {
	out := make([]int16, frames*channels)
	for i := range frames {
		v := int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out
}

// WriteFile writes data into dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}
