// SPDX-License-Identifier: EPL-2.0

package pool

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
	"github.com/ik5/audwave/pipeline"
	"github.com/ik5/audwave/waveform"
)

// Request is the work a worker unit performs for one ProcessingRequest.
type Request struct {
	Path   string
	Config waveform.Config
}

// Progress is reported by a Processor while it works. Partial holds
// provisional amplitudes when the processor has them; the pool forwards
// them to streaming handles only.
type Progress struct {
	Fraction float64
	Status   string
	Partial  []float64
}

// Processor turns a request into a waveform. Implementations check ctx
// between units of work and report progress through report, which must
// not be retained after Process returns. Reports double as heartbeats: a
// processor silent for longer than the liveness timeout is declared
// crashed.
type Processor interface {
	Process(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error)

func (f ProcessorFunc) Process(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
	return f(ctx, req, report)
}

// Decoder is the Processor used by default. Files up to ChunkThreshold
// bytes are decoded whole; larger ones, and whole decodes that would
// exceed the sample budget, go through the chunked pipeline.
type Decoder struct {
	Library        *codec.Library
	ChunkThreshold int64
	AnalysisRate   int
	// MaxSamples bounds a whole-file decode. Zero means unlimited.
	MaxSamples int
	Logger     *log.Logger
}

func (d *Decoder) Process(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
	const op = "pool.process"

	st, err := os.Stat(req.Path)
	if err != nil {
		return nil, audio.WrapError(audio.KindFileAccess, op, req.Path, err)
	}
	if st.IsDir() {
		return nil, audio.NewError(audio.KindFileAccess, op, "%s is a directory", req.Path)
	}

	if st.Size() > d.ChunkThreshold {
		return d.chunked(ctx, req, report)
	}
	data, err := d.whole(ctx, req, report)
	if errors.Is(err, codec.ErrOutOfMemory) {
		d.logger().Debug("whole decode over budget, switching to chunks", "path", req.Path)
		return d.chunked(ctx, req, report)
	}
	return data, err
}

func (d *Decoder) logger() *log.Logger {
	if d.Logger == nil {
		return log.Default()
	}
	return d.Logger
}

func (d *Decoder) whole(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
	const op = "pool.decodeWhole"

	report(Progress{Status: "reading"})
	raw, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, audio.WrapError(audio.KindFileAccess, op, req.Path, err)
	}
	if len(raw) == 0 {
		return nil, audio.WrapError(audio.KindDecoding, op, req.Path, codec.ErrEmptyInput)
	}
	format := codec.DetectFormat(raw[:min(len(raw), audio.SniffLen)], req.Path)

	report(Progress{Fraction: 0.1, Status: "decoding"})
	pcm, err := d.Library.DecodeWhole(ctx, raw, format, codec.Options{
		AnalysisRate: d.AnalysisRate,
		MaxSamples:   d.MaxSamples,
		Progress: func(int) {
			report(Progress{Fraction: 0.1, Status: "decoding"})
		},
	})
	if err != nil {
		return nil, err
	}
	if pcm.Frames() == 0 {
		return nil, audio.WrapError(audio.KindDecoding, op, req.Path, ErrNoAudio)
	}
	if err := ctx.Err(); err != nil {
		return nil, audio.WrapError(audio.KindCancelled, op, req.Path, err)
	}

	report(Progress{Fraction: 0.8, Status: "generating"})
	data, err := waveform.Generate(pcm.Samples, pcm.SampleRate, pcm.Channels, req.Config)
	if err != nil {
		return nil, err
	}
	data.Metadata.Format = format.String()
	return data, nil
}

func (d *Decoder) chunked(ctx context.Context, req Request, report func(Progress)) (*waveform.Data, error) {
	const op = "pool.decodeChunked"

	p := pipeline.New(d.Library, pipeline.WithLogger(d.logger()))
	defer p.Dispose()

	report(Progress{Status: "probing"})
	if err := p.Initialize(req.Path); err != nil {
		return nil, err
	}
	md := p.FormatMetadata()

	var (
		acc  *waveform.Accumulator
		rate int
		last float64
	)
	err := p.Run(ctx, func(seg pipeline.Segment) error {
		if acc == nil {
			a, err := waveform.NewAccumulator(req.Config, seg.Channels, 0)
			if err != nil {
				return err
			}
			acc, rate = a, seg.SampleRate
		}
		acc.Add(seg.Samples)

		if f := p.Progress(); f > last {
			last = f
			report(Progress{Fraction: f, Status: "decoding", Partial: acc.Amplitudes()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.Frames() == 0 {
		return nil, audio.WrapError(audio.KindDecoding, op, req.Path, ErrNoAudio)
	}

	data := acc.Data(rate)
	data.Metadata.Format = md.Format.String()
	return data, nil
}
