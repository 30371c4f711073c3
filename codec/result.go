// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"errors"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/formats/aiff"
	"github.com/ik5/audwave/formats/flac"
	"github.com/ik5/audwave/formats/mp3"
	"github.com/ik5/audwave/formats/mp4"
	"github.com/ik5/audwave/formats/ogg"
	"github.com/ik5/audwave/formats/opus"
	"github.com/ik5/audwave/formats/vorbis"
	"github.com/ik5/audwave/formats/wav"
)

// ResultCode is the outcome of a codec call.
type ResultCode int

const (
	OK ResultCode = iota
	InvalidFormat
	DecodeFailed
	OutOfMemory
	InvalidData
)

var codeNames = [...]string{
	OK:            "ok",
	InvalidFormat: "invalid format",
	DecodeFailed:  "decode failed",
	OutOfMemory:   "out of memory",
	InvalidData:   "invalid data",
}

func (c ResultCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown"
}

// Kind maps the code onto the engine's error taxonomy.
func (c ResultCode) Kind() audio.Kind {
	switch c {
	case OK:
		return audio.KindUnknown
	case InvalidFormat:
		return audio.KindUnsupportedFormat
	default:
		return audio.KindDecoding
	}
}

var unsupported = []error{
	mp3.ErrUnsupportedLayer,
	mp4.ErrUnsupportedCodec,
	mp4.ErrUnsupportedBrand,
	mp4.ErrNoSoundTrack,
	opus.ErrUnsupportedMapping,
	opus.ErrUnavailable,
	wav.ErrUnsupportedEncoding,
	wav.ErrUnsupportedWavLayout,
	aiff.ErrUnsupportedCompression,
	aiff.ErrUnsupportedAiffLayout,
	ErrUnknownFormat,
	ErrOpusUnavailable,
}

var invalidData = []error{
	ogg.ErrBadChecksum,
	flac.ErrNoFrameSync,
	mp3.ErrNoFrameSync,
	opus.ErrNoAudio,
	vorbis.ErrMissingHeaders,
	vorbis.ErrCorruptStream,
}

// CodeOf classifies a decoder error.
func CodeOf(err error) ResultCode {
	if err == nil {
		return OK
	}
	for _, e := range unsupported {
		if errors.Is(err, e) {
			return InvalidFormat
		}
	}
	for _, e := range invalidData {
		if errors.Is(err, e) {
			return InvalidData
		}
	}
	if errors.Is(err, ErrOutOfMemory) {
		return OutOfMemory
	}
	return DecodeFailed
}

// Wrap turns a decoder error into an *audio.Error of the matching kind.
// Context cancellation and errors that already carry a kind pass through.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if k := audio.KindOf(err); k != audio.KindUnknown {
		return err
	}
	return audio.WrapError(CodeOf(err).Kind(), op, path, err)
}
