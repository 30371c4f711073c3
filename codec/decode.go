// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"bytes"
	"context"
	"time"

	"github.com/ik5/audwave/audio"
)

// DetectFormat identifies the format from the leading bytes of a file,
// falling back to the path's extension when the signature is not
// recognised.
func DetectFormat(head []byte, path string) audio.Format {
	if f := audio.DetectFormat(head); f != audio.FormatUnknown {
		return f
	}
	return audio.FormatFromExt(path)
}

// Options tunes DecodeWhole.
type Options struct {
	// Mono averages channels into one.
	Mono bool
	// AnalysisRate resamples to this rate when non-zero.
	AnalysisRate int
	// MaxSamples fails the decode with ErrOutOfMemory once exceeded. Zero
	// means unlimited.
	MaxSamples int
	// Progress, when set, is called as samples accumulate.
	Progress audio.ProgressFunc
}

// PCM is a fully decoded stream.
type PCM struct {
	Samples    []float32 // interleaved
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Frames is the number of sample frames.
func (p *PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// DecodeWhole decodes a complete in-memory file. Errors are *audio.Error
// values classified through CodeOf, except context cancellation.
func (l *Library) DecodeWhole(ctx context.Context, data []byte, format audio.Format, opts Options) (*PCM, error) {
	const op = "codec.decodeWhole"

	if len(data) == 0 {
		return nil, audio.WrapError(audio.KindDecoding, op, "", ErrEmptyInput)
	}
	dec, err := l.decoder(format)
	if err != nil {
		return nil, Wrap(op, "", err)
	}

	src, err := dec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Wrap(op, "", err)
	}
	defer src.Close()

	if opts.Mono {
		src = audio.NewMonoMixer(src)
	}
	if opts.AnalysisRate > 0 && opts.AnalysisRate != src.SampleRate() {
		src = audio.NewResampler(src, opts.AnalysisRate)
	}

	if opts.MaxSamples > 0 {
		src = &budgetSource{Source: src, left: opts.MaxSamples}
	}

	samples, err := audio.Collect(ctx, src, 0, opts.Progress)
	if err != nil {
		if audio.IsKind(err, audio.KindCancelled) {
			return nil, err
		}
		return nil, Wrap(op, "", err)
	}

	out := &PCM{Samples: samples, SampleRate: src.SampleRate(), Channels: src.Channels()}
	if out.SampleRate > 0 {
		out.Duration = time.Duration(out.Frames()) * time.Second / time.Duration(out.SampleRate)
	}
	return out, nil
}

// budgetSource fails once more than left samples have been read.
type budgetSource struct {
	audio.Source
	left int
}

func (b *budgetSource) ReadSamples(dst []float32) (int, error) {
	n, err := b.Source.ReadSamples(dst)
	b.left -= n
	if b.left < 0 {
		return 0, ErrOutOfMemory
	}
	return n, err
}
