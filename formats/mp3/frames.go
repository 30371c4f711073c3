// SPDX-License-Identifier: EPL-2.0

package mp3

import (
	"bytes"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// primeFrames is how many preceding frames are replayed before a batch so
// the bit reservoir (main_data_begin) can reach back into them.
const primeFrames = 2

// FrameDecoder decodes batches of complete Layer III frames taken from
// anywhere in a stream. It keeps the last frames of each batch to prime the
// next one. Output is always interleaved stereo, as go-mp3 produces it.
type FrameDecoder struct {
	prime [][]byte
	buf   []byte
	pcm   []byte
}

func NewFrameDecoder() *FrameDecoder { return &FrameDecoder{} }

func (d *FrameDecoder) Channels() int { return 2 }

// Reset drops the priming context, e.g. after a seek.
func (d *FrameDecoder) Reset() { d.prime = d.prime[:0] }

// Decode returns the samples of frames. A batch go-mp3 cannot decode is
// replaced by silence of the same length so one damaged frame does not fail
// a whole file; the returned error is then nil.
func (d *FrameDecoder) Decode(frames [][]byte) ([]float32, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	want, skip := 0, 0
	for _, f := range frames {
		h, ok := ParseFrameHeader(f)
		if !ok {
			return nil, ErrNoFrameSync
		}
		if h.Layer != 3 {
			return nil, ErrUnsupportedLayer
		}
		want += h.Samples * 2
	}
	for _, f := range d.prime {
		h, _ := ParseFrameHeader(f)
		skip += h.Samples * 2
	}

	d.buf = d.buf[:0]
	for _, f := range d.prime {
		d.buf = append(d.buf, f...)
	}
	for _, f := range frames {
		d.buf = append(d.buf, f...)
	}

	out := make([]float32, want)
	if pcm, err := d.decode(d.buf); err == nil {
		pcm = pcm[min(skip, len(pcm)):]
		for i := range min(len(pcm), want) {
			out[i] = pcm[i]
		}
	}

	d.keep(frames)
	return out, nil
}

func (d *FrameDecoder) keep(frames [][]byte) {
	all := append(d.prime, frames...)
	start := max(len(all)-primeFrames, 0)
	kept := make([][]byte, 0, primeFrames)
	for _, f := range all[start:] {
		kept = append(kept, bytes.Clone(f))
	}
	d.prime = kept
}

func (d *FrameDecoder) decode(stream []byte) ([]float32, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("opening mp3 frame decoder: %w", err)
	}

	d.pcm = d.pcm[:0]
	chunk := make([]byte, 8192)
	for {
		n, err := dec.Read(chunk)
		d.pcm = append(d.pcm, chunk[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever decoded before the damage.
			break
		}
		if n == 0 {
			break
		}
	}

	samples := make([]float32, len(d.pcm)/2)
	for i := range samples {
		v := int16(uint16(d.pcm[2*i]) | uint16(d.pcm[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}
