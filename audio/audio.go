// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"io"
	"sync"
)

type Source interface {
	// SampleRate of the PCM stream in Hz.
	SampleRate() int
	// Channels count (e.g., 1=mono, 2=stereo).
	Channels() int
	// ReadSamples fills dst with interleaved float32 samples in [-1,1].
	// Returns number of float32 values written (not frames). When n == 0 with err == io.EOF, the stream is finished.
	ReadSamples(dst []float32) (n int, err error)

	BufSize() int

	// Close releases any resources.
	Close() error
}

// Decoder constructs a Source from an input reader.
type Decoder interface {
	Decode(r io.Reader) (Source, error)
}

// Registry maps formats to their whole-stream decoders.
type Registry struct {
	codecs map[Format]Decoder

	mtx *sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[Format]Decoder),
		mtx:    &sync.RWMutex{},
	}
}

func (r *Registry) Register(format Format, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.codecs[format] = d
}

func (r *Registry) Get(format Format) (Decoder, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	d, ok := r.codecs[format]
	return d, ok
}

// Formats lists the registered formats.
func (r *Registry) Formats() []Format {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	out := make([]Format, 0, len(r.codecs))
	for f := range r.codecs {
		out = append(out, f)
	}
	return out
}

// BufferSource serves interleaved samples already held in memory.
type BufferSource struct {
	rate     int
	channels int
	samples  []float32
	pos      int
}

// NewBufferSource wraps interleaved samples as a Source.
func NewBufferSource(sampleRate, channels int, samples []float32) *BufferSource {
	return &BufferSource{rate: sampleRate, channels: channels, samples: samples}
}

func (b *BufferSource) SampleRate() int { return b.rate }
func (b *BufferSource) Channels() int   { return b.channels }
func (b *BufferSource) BufSize() int    { return 4096 }
func (b *BufferSource) Close() error    { return nil }

func (b *BufferSource) ReadSamples(dst []float32) (int, error) {
	if b.pos >= len(b.samples) {
		return 0, io.EOF
	}
	n := copy(dst, b.samples[b.pos:])
	b.pos += n
	if b.pos >= len(b.samples) {
		return n, io.EOF
	}
	return n, nil
}
