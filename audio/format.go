// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
)

// Format identifies a container/codec combination the engine can decode.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatAIFF
	FormatMP3
	FormatFLAC
	FormatOggVorbis
	FormatOpus
	FormatMP4
)

var formatNames = [...]string{
	FormatUnknown:   "unknown",
	FormatWAV:       "wav",
	FormatAIFF:      "aiff",
	FormatMP3:       "mp3",
	FormatFLAC:      "flac",
	FormatOggVorbis: "ogg",
	FormatOpus:      "opus",
	FormatMP4:       "mp4",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return formatNames[FormatUnknown]
}

// ParseFormat maps a format name (as returned by String) back to a Format.
func ParseFormat(name string) Format {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range formatNames {
		if n == name {
			return Format(i)
		}
	}
	return FormatUnknown
}

// SniffLen is the number of leading bytes DetectFormat wants to see. Fewer
// bytes are accepted, but Ogg streams need the first packet to tell Vorbis
// from Opus.
const SniffLen = 64

// DetectFormat identifies the format from the leading bytes of a file.
func DetectFormat(head []byte) Format {
	if len(head) < 4 {
		return FormatUnknown
	}

	switch {
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return FormatWAV
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("FORM")) &&
		(bytes.Equal(head[8:12], []byte("AIFF")) || bytes.Equal(head[8:12], []byte("AIFC"))):
		return FormatAIFF
	case bytes.Equal(head[0:4], []byte("fLaC")):
		return FormatFLAC
	case bytes.Equal(head[0:4], []byte("OggS")):
		return detectOgg(head)
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.Equal(head[0:3], []byte("ID3")):
		return FormatMP3
	}

	// MPEG audio frame sync: 11 set bits, layer != reserved.
	sync := binary.BigEndian.Uint16(head[0:2])
	if sync&0xFFE0 == 0xFFE0 && (head[1]>>1)&0x03 != 0 {
		return FormatMP3
	}

	return FormatUnknown
}

func detectOgg(head []byte) Format {
	// The first page carries exactly one packet; its identification header
	// starts right after the segment table.
	if len(head) < 27 {
		return FormatOggVorbis
	}
	segs := int(head[26])
	body := 27 + segs
	if len(head) < body+8 {
		return FormatOggVorbis
	}
	if bytes.HasPrefix(head[body:], []byte("OpusHead")) {
		return FormatOpus
	}
	return FormatOggVorbis
}

var extFormats = map[string]Format{
	".wav":  FormatWAV,
	".wave": FormatWAV,
	".aif":  FormatAIFF,
	".aiff": FormatAIFF,
	".aifc": FormatAIFF,
	".mp3":  FormatMP3,
	".flac": FormatFLAC,
	".ogg":  FormatOggVorbis,
	".oga":  FormatOggVorbis,
	".opus": FormatOpus,
	".mp4":  FormatMP4,
	".m4a":  FormatMP4,
	".m4b":  FormatMP4,
}

// FormatFromExt guesses the format from a file name extension.
func FormatFromExt(path string) Format {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return FormatUnknown
}
