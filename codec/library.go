// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"fmt"
	"sync"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/formats/aiff"
	"github.com/ik5/audwave/formats/flac"
	"github.com/ik5/audwave/formats/mp3"
	"github.com/ik5/audwave/formats/mp4"
	"github.com/ik5/audwave/formats/opus"
	"github.com/ik5/audwave/formats/vorbis"
	"github.com/ik5/audwave/formats/wav"
)

// Library is the process-wide codec state: the decoder registry and the
// result of probing the Opus runtime. It is initialised by the first
// Acquire and torn down by the last Release, never per task.
type Library struct {
	mu       sync.Mutex
	refs     int
	inits    int
	registry *audio.Registry
	opusErr  error
}

var defaultLibrary = &Library{}

// Default returns the process-wide Library.
func Default() *Library { return defaultLibrary }

// NewLibrary returns an independent Library, for tests.
func NewLibrary() *Library { return &Library{} }

// Acquire takes a reference, initialising the library on the first one.
func (l *Library) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		l.init()
	}
	l.refs++
	return nil
}

// Release drops a reference. The last release frees the registry.
func (l *Library) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		return
	}
	l.refs--
	if l.refs == 0 {
		l.registry = nil
	}
}

// Refs is the number of outstanding Acquire calls.
func (l *Library) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// Inits counts how many times the library was initialised.
func (l *Library) Inits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inits
}

// OpusAvailable reports whether the Opus runtime passed its probe.
func (l *Library) OpusAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs > 0 && l.opusErr == nil
}

func (l *Library) init() {
	l.inits++

	reg := audio.NewRegistry()
	reg.Register(audio.FormatWAV, wav.Decoder{})
	reg.Register(audio.FormatAIFF, aiff.Decoder{})
	reg.Register(audio.FormatMP3, mp3.Decoder{})
	reg.Register(audio.FormatFLAC, flac.Decoder{})
	reg.Register(audio.FormatOggVorbis, vorbis.Decoder{})
	reg.Register(audio.FormatMP4, mp4.Decoder{})

	if err := opus.Probe(); err != nil {
		l.opusErr = fmt.Errorf("%w: %w", ErrOpusUnavailable, err)
	} else {
		l.opusErr = nil
		reg.Register(audio.FormatOpus, opus.Decoder{})
	}
	l.registry = reg
}

// decoder looks up the whole-file decoder for f.
func (l *Library) decoder(f audio.Format) (audio.Decoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.registry == nil {
		return nil, ErrNotAcquired
	}
	if f == audio.FormatOpus && l.opusErr != nil {
		return nil, l.opusErr
	}
	d, ok := l.registry.Get(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
	return d, nil
}
