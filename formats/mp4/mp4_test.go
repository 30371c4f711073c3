// SPDX-License-Identifier: EPL-2.0

package mp4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ik5/audwave/internal/audiotest"
)

func parse(t *testing.T, data []byte) *Track {
	t.Helper()

	tr, err := ParseFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	return tr
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	samples := audiotest.SineInt16(8000, 2, 2500, 300, 0.5)
	tr := parse(t, audiotest.MP4(8000, 2, samples, audiotest.MP4Options{SamplesPerChunk: 1000}))

	if tr.Codec != "sowt" || tr.Channels != 2 || tr.SampleRate != 8000 || tr.BitsPerSample != 16 {
		t.Errorf("entry = %s %d ch %d Hz %d bit", tr.Codec, tr.Channels, tr.SampleRate, tr.BitsPerSample)
	}
	if !tr.PCM() || tr.FrameBytes() != 4 {
		t.Errorf("PCM() = %v FrameBytes() = %d", tr.PCM(), tr.FrameBytes())
	}
	if tr.Timescale != 8000 || tr.Duration != 2500 || tr.Length() != 312500*time.Microsecond {
		t.Errorf("timing = %d/%d %v", tr.Duration, tr.Timescale, tr.Length())
	}
	if tr.SampleCount != 2500 {
		t.Errorf("SampleCount = %d", tr.SampleCount)
	}

	want := []struct {
		first int64
		count int
	}{{0, 1000}, {1000, 1000}, {2000, 500}}
	if len(tr.Chunks) != len(want) {
		t.Fatalf("chunks = %d, want %d", len(tr.Chunks), len(want))
	}
	for i, w := range want {
		c := tr.Chunks[i]
		if c.FirstSample != w.first || c.Count != w.count {
			t.Errorf("chunk %d = %+v", i, c)
		}
		if i > 0 && c.Offset != tr.Chunks[i-1].Offset+int64(tr.Chunks[i-1].Count*4) {
			t.Errorf("chunk %d offset %d not contiguous", i, c.Offset)
		}
	}
}

func TestParseFile_Co64AndTwos(t *testing.T) {
	t.Parallel()

	samples := audiotest.SineInt16(16000, 1, 300, 500, 0.5)
	data := audiotest.MP4(16000, 1, samples, audiotest.MP4Options{Codec: "twos", Co64: true, SamplesPerChunk: 128})
	tr := parse(t, data)

	if !tr.Format.BigEndian || len(tr.Chunks) != 3 {
		t.Errorf("format = %+v chunks = %d", tr.Format, len(tr.Chunks))
	}

	c := tr.CursorAt(200)
	if got := int16(binary.BigEndian.Uint16(data[c.Offset():])); got != samples[200] {
		t.Errorf("sample 200 = %d, want %d", got, samples[200])
	}
}

func TestParseFile_Errors(t *testing.T) {
	t.Parallel()

	valid := audiotest.MP4(8000, 1, make([]int16, 10), audiotest.MP4Options{})
	badBrand := audiotest.MP4(8000, 1, make([]int16, 10), audiotest.MP4Options{Brand: "xxxx"})
	// Brand list: major, minor version, then compatible brands; clear the
	// compatible "isom" too.
	copy(badBrand[16:20], "yyyy")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "not mp4", data: []byte("RIFF\x00\x00\x00\x00WAVE"), want: ErrNotMP4File},
		{name: "brand", data: badBrand, want: ErrUnsupportedBrand},
		{name: "no moov", data: valid[:28], want: ErrNoSoundTrack},
		{name: "truncated moov", data: valid[:60], want: ErrMalformedBox},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseFile(bytes.NewReader(tt.data), int64(len(tt.data)))
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseFile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSampleAtTime(t *testing.T) {
	t.Parallel()

	tr := parse(t, audiotest.MP4(1000, 1, make([]int16, 5000), audiotest.MP4Options{}))

	s, start := tr.SampleAtTime(2500)
	if s != 2500 || start != 2500 {
		t.Errorf("SampleAtTime(2500) = %d, %d", s, start)
	}
	if got := tr.SampleTime(1234); got != 1234 {
		t.Errorf("SampleTime(1234) = %d", got)
	}
	if s, _ := tr.SampleAtTime(1 << 40); s != tr.SampleCount {
		t.Errorf("SampleAtTime(past end) = %d", s)
	}
}

func TestCursor_WalksChunks(t *testing.T) {
	t.Parallel()

	tr := parse(t, audiotest.MP4(8000, 1, make([]int16, 100), audiotest.MP4Options{SamplesPerChunk: 30}))

	n := 0
	prevEnd := int64(-1)
	for c := tr.CursorAt(0); !c.Done(); c.Advance() {
		if prevEnd >= 0 && c.Offset() != prevEnd {
			t.Fatalf("sample %d offset %d, want %d", c.Sample(), c.Offset(), prevEnd)
		}
		prevEnd = c.End()
		n++
	}
	if n != 100 {
		t.Errorf("walked %d samples, want 100", n)
	}

	c := tr.CursorAt(65)
	if c.Chunk() != 2 || c.Offset() != tr.Chunks[2].Offset+5*2 {
		t.Errorf("CursorAt(65) chunk %d offset %d", c.Chunk(), c.Offset())
	}
	if end := tr.CursorAt(500); !end.Done() {
		t.Error("CursorAt(past end) not done")
	}
}

func TestHasEnda(t *testing.T) {
	t.Parallel()

	enda := []byte{0, 0, 0, 10, 'e', 'n', 'd', 'a', 0, 1}
	wave := append([]byte{0, 0, 0, 18, 'w', 'a', 'v', 'e'}, enda...)
	if !hasEnda(enda) || !hasEnda(wave) {
		t.Error("hasEnda() missed the atom")
	}
	if hasEnda([]byte{0, 0, 0, 10, 'e', 'n', 'd', 'a', 0, 0}) {
		t.Error("hasEnda() reported big-endian data as little")
	}
}

func TestDecoder_PCM(t *testing.T) {
	t.Parallel()

	samples := audiotest.SineInt16(22050, 2, 3000, 440, 0.5)
	for _, codec := range []string{"sowt", "twos"} {
		data := audiotest.MP4(22050, 2, samples, audiotest.MP4Options{Codec: codec, SamplesPerChunk: 700})
		src, err := Decoder{}.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("%s: Decode() error = %v", codec, err)
		}

		got := make([]float32, 0, len(samples))
		buf := make([]float32, 1000)
		for {
			n, err := src.ReadSamples(buf)
			got = append(got, buf[:n]...)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("%s: ReadSamples() error = %v", codec, err)
			}
		}
		if len(got) != len(samples) {
			t.Fatalf("%s: decoded %d samples, want %d", codec, len(got), len(samples))
		}
		for i := range samples {
			if want := float32(samples[i]) / 32768; got[i] != want {
				t.Fatalf("%s: sample %d = %v, want %v", codec, i, got[i], want)
			}
		}
	}
}

func TestDecoder_AAC(t *testing.T) {
	t.Parallel()

	data := audiotest.MP4(44100, 2, make([]int16, 2048), audiotest.MP4Options{Codec: "mp4a"})

	tr := parse(t, data)
	if tr.PCM() || tr.ObjectType != 0x40 {
		t.Errorf("mp4a track PCM() = %v ObjectType = %#x", tr.PCM(), tr.ObjectType)
	}

	_, err := Decoder{}.Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("Decode() error = %v, want ErrUnsupportedCodec", err)
	}
}

func BenchmarkParseFile(b *testing.B) {
	data := audiotest.MP4(44100, 2, make([]int16, 2*44100*10), audiotest.MP4Options{SamplesPerChunk: 512})
	r := bytes.NewReader(data)
	b.ReportAllocs()
	for b.Loop() {
		_, _ = ParseFile(r, int64(len(data)))
	}
}
