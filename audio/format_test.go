// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"testing"
)

func oggHead(packet string) []byte {
	head := make([]byte, 27, 64)
	copy(head, "OggS")
	head[26] = 1
	head = append(head, byte(len(packet)))
	return append(head, packet...)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		head []byte
		want Format
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), FormatWAV},
		{"riff not wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), FormatUnknown},
		{"aiff", []byte("FORM\x00\x00\x00\x00AIFFCOMM"), FormatAIFF},
		{"aifc", []byte("FORM\x00\x00\x00\x00AIFCFVER"), FormatAIFF},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), FormatFLAC},
		{"mp4", []byte("\x00\x00\x00\x18ftypM4A "), FormatMP4},
		{"id3", []byte("ID3\x04\x00\x00\x00\x00"), FormatMP3},
		{"mpeg sync", []byte{0xFF, 0xFB, 0x90, 0x64}, FormatMP3},
		{"mpeg reserved layer", []byte{0xFF, 0xF9, 0x90, 0x64}, FormatUnknown},
		{"vorbis", oggHead("\x01vorbis\x00\x00\x00\x00"), FormatOggVorbis},
		{"opus", oggHead("OpusHead\x01\x02"), FormatOpus},
		{"short ogg", []byte("OggS\x00"), FormatOggVorbis},
		{"too short", []byte("RI"), FormatUnknown},
		{"text", []byte("hello world, not audio"), FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectFormat(tt.head); got != tt.want {
				t.Errorf("DetectFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatFromExt(t *testing.T) {
	t.Parallel()

	tests := map[string]Format{
		"a.wav":        FormatWAV,
		"/x/y/B.WAV":   FormatWAV,
		"song.aif":     FormatAIFF,
		"song.mp3":     FormatMP3,
		"song.flac":    FormatFLAC,
		"song.oga":     FormatOggVorbis,
		"voice.opus":   FormatOpus,
		"book.m4b":     FormatMP4,
		"notes.txt":    FormatUnknown,
		"no-extension": FormatUnknown,
	}

	for path, want := range tests {
		if got := FormatFromExt(path); got != want {
			t.Errorf("FormatFromExt(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for f := FormatUnknown; f <= FormatMP4; f++ {
		if got := ParseFormat(f.String()); got != f {
			t.Errorf("ParseFormat(%q) = %v, want %v", f.String(), got, f)
		}
	}
	if got := ParseFormat(" MP3 "); got != FormatMP3 {
		t.Errorf("ParseFormat(\" MP3 \") = %v, want mp3", got)
	}
	if Format(200).String() != "unknown" {
		t.Errorf("out of range String() = %q", Format(200).String())
	}
}
