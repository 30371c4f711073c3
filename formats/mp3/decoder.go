// SPDX-License-Identifier: EPL-2.0

package mp3

import (
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/ik5/audwave/audio"
)

// pcm16 is what go-mp3 emits: signed 16-bit little-endian, always stereo.
var pcm16 = audio.SampleFormat{Bits: 16}

// newSource adapts a go-mp3 style PCM reader. Odd byte counts from r are
// carried into the next read by audio.PCMSource.
func newSource(r io.Reader, sampleRate int) audio.Source {
	return audio.NewPCMSource(r, pcm16, sampleRate, 2)
}

// Decoder decodes a whole MP3 stream through go-mp3. ID3v2 tags are skipped
// by go-mp3 itself; the chunked path uses FrameDecoder instead.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFrameSync, err)
	}
	return newSource(dec, dec.SampleRate()), nil
}
