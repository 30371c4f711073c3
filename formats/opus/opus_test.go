// SPDX-License-Identifier: EPL-2.0

package opus

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ik5/audwave/internal/audiotest"
)

func TestParseHead(t *testing.T) {
	t.Parallel()

	h, err := ParseHead(audiotest.OpusHead(2, 312, 44100))
	if err != nil {
		t.Fatalf("ParseHead() error = %v", err)
	}
	want := Head{Version: 1, Channels: 2, PreSkip: 312, InputRate: 44100}
	if h != want {
		t.Errorf("ParseHead() = %+v, want %+v", h, want)
	}

	badVersion := audiotest.OpusHead(2, 0, 48000)
	badVersion[8] = 0x10
	for _, p := range [][]byte{[]byte("OpusTags........."), audiotest.OpusHead(0, 0, 48000), badVersion, []byte("OpusHead")} {
		if _, err := ParseHead(p); !errors.Is(err, ErrNotOpusHead) {
			t.Errorf("ParseHead(%q) error = %v, want ErrNotOpusHead", p, err)
		}
	}
}

func TestPacketSamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    []byte
		want int
	}{
		{name: "silk 20ms", p: []byte{1 << 3}, want: 960},
		{name: "silk 60ms", p: []byte{3 << 3}, want: 2880},
		{name: "hybrid 10ms", p: []byte{12 << 3}, want: 480},
		{name: "celt 2.5ms", p: []byte{16 << 3}, want: 120},
		{name: "celt 20ms two frames", p: []byte{31<<3 | 1}, want: 1920},
		{name: "code 3 five frames", p: []byte{31<<3 | 3, 5}, want: 4800},
		{name: "code 3 too long", p: []byte{3<<3 | 3, 3}, want: 0},
		{name: "code 3 truncated", p: []byte{31<<3 | 3}, want: 0},
		{name: "empty", p: nil, want: 0},
	}
	for _, tt := range tests {
		if got := PacketSamples(tt.p); got != tt.want {
			t.Errorf("%s: PacketSamples() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestNewPacketDecoder_Mapping(t *testing.T) {
	t.Parallel()

	if _, err := NewPacketDecoder(Head{Channels: 6, Mapping: 1}); !errors.Is(err, ErrUnsupportedMapping) {
		t.Errorf("NewPacketDecoder() error = %v, want ErrUnsupportedMapping", err)
	}
}

func TestDecoder_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (Decoder{}).Decode(bytes.NewReader([]byte("nothing"))); !errors.Is(err, ErrNotOpusHead) {
		t.Errorf("Decode(garbage) error = %v, want ErrNotOpusHead", err)
	}
}

func BenchmarkPacketSamples(b *testing.B) {
	p := []byte{31<<3 | 3, 3}
	b.ReportAllocs()
	for b.Loop() {
		PacketSamples(p)
	}
}
