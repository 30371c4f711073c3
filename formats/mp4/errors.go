// SPDX-License-Identifier: EPL-2.0

package mp4

import "errors"

var (
	// ErrNotMP4File indicates the file does not start with an ftyp box
	ErrNotMP4File = errors.New("not an MP4 file")

	// ErrUnsupportedBrand indicates an ftyp whose brands are not audio-capable ISO-BMFF
	ErrUnsupportedBrand = errors.New("unsupported MP4 brand")

	// ErrNoSoundTrack indicates moov holds no sound track
	ErrNoSoundTrack = errors.New("no sound track found")

	// ErrMalformedBox indicates a box that overruns its parent or a sample table inconsistency
	ErrMalformedBox = errors.New("malformed MP4 box")

	// ErrUnsupportedCodec indicates a sample entry that cannot be decoded
	ErrUnsupportedCodec = errors.New("unsupported MP4 audio codec")
)
