// SPDX-License-Identifier: EPL-2.0

package vorbis

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"

	"github.com/ik5/audwave/audio"
)

// frameReader is the part of oggvorbis.Reader the source needs.
type frameReader interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
}

// source serves a whole Ogg Vorbis stream. Rate and layout come from the
// identification header and never change.
type source struct {
	dec frameReader
}

func (s *source) SampleRate() int { return s.dec.SampleRate() }
func (s *source) Channels() int   { return s.dec.Channels() }
func (s *source) BufSize() int    { return 4096 - 4096%max(s.dec.Channels(), 1) }
func (s *source) Close() error    { return nil }

func (s *source) ReadSamples(dst []float32) (int, error) {
	// oggvorbis reads whole frames: the request is rounded down to a
	// multiple of the channel count and the result counts values.
	want := len(dst) - len(dst)%s.dec.Channels()
	if want == 0 {
		return 0, nil
	}

	n, err := s.dec.Read(dst[:want])
	switch {
	case err == nil, err == io.EOF:
		return n, err
	default:
		return n, fmt.Errorf("%w: %w", ErrCorruptStream, err)
	}
}

// Decoder decodes a whole Ogg Vorbis stream through
// github.com/jfreymuth/oggvorbis. The chunked path uses PacketDecoder.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStream, err)
	}
	return &source{dec: dec}, nil
}
