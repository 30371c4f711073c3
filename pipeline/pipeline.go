// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/codec"
)

// strategy is the format-specific half of a Pipeline.
type strategy interface {
	kind() Strategy
	// probe reads the container headers, fills c and returns the byte range
	// holding audio data.
	probe(r io.ReaderAt, size int64, c *Context) (start, end int64, err error)
	// decode converts the whole units at the front of buf, which starts at
	// file offset base. consumed bytes may be dropped by the caller; the rest
	// is passed again with more data. With final set no more data follows.
	decode(buf []byte, base int64, final bool) (consumed int, samples []float32, err error)
	// seek returns where to resume reading to reach frame, counted in
	// output frames.
	seek(r io.ReaderAt, frame int64, c *Context) (seekPoint, error)
	output() (rate, channels int)
	close() error
}

// seekPoint is the resume position chosen by a strategy.
type seekPoint struct {
	offset int64
	frame  int64 // first output frame decoded from offset
	exact  bool
}

// Pipeline decodes one file chunk by chunk. It is not safe for concurrent
// use; a worker owns it for the duration of a task.
type Pipeline struct {
	lib *codec.Library
	log *log.Logger

	state State
	path  string
	file  *os.File
	ctx   Context
	strat strategy

	chunkSize int
	readBuf   []byte
	pending   []byte
	base      int64 // file offset of pending[0]

	frame int64 // next output frame
	trim  int64 // frames still to drop after an exact seek
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for debug events.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithChunkSize overrides OptimalChunkSize for NextChunk.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) { p.chunkSize = n }
}

// New returns an uninitialised Pipeline decoding through lib, which must be
// acquired by the caller for as long as the Pipeline is used.
func New(lib *codec.Library, opts ...Option) *Pipeline {
	p := &Pipeline{lib: lib, log: log.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return p.state }

// Context returns a snapshot of the decode context.
func (p *Pipeline) Context() Context { return p.ctx }

// Initialize opens path, detects its format and probes the container.
// A missing or unreadable file is a FileAccess error; an empty file or a
// damaged container is a Decoding error; an unrecognised format is
// UnsupportedFormat. On failure the Pipeline returns to Uninitialized.
func (p *Pipeline) Initialize(path string) (err error) {
	const op = "pipeline.initialize"

	switch p.state {
	case Uninitialized:
	case Disposed:
		return audio.WrapError(audio.KindDecoding, op, path, ErrDisposed)
	default:
		return audio.WrapError(audio.KindDecoding, op, path, ErrAlreadyInitialized)
	}
	p.state = Initializing
	p.path = path
	defer func() {
		if err != nil {
			p.release()
			p.state = Uninitialized
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return audio.WrapError(audio.KindFileAccess, op, path, err)
	}
	p.file = f
	st, err := f.Stat()
	if err != nil {
		return audio.WrapError(audio.KindFileAccess, op, path, err)
	}
	if st.IsDir() {
		return audio.WrapError(audio.KindFileAccess, op, path, fmt.Errorf("%s is a directory", path))
	}
	size := st.Size()
	if size == 0 {
		return audio.WrapError(audio.KindDecoding, op, path, ErrEmptyFile)
	}

	head := make([]byte, min(int64(audio.SniffLen), size))
	if _, err := f.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return audio.WrapError(audio.KindFileAccess, op, path, err)
	}
	format := codec.DetectFormat(head, path)
	strat, err := newStrategy(format, p.lib)
	if err != nil {
		return codec.Wrap(op, path, err)
	}
	p.strat = strat

	p.ctx = Context{Format: format, Strategy: strat.kind(), FileSize: size, SeekIndex: IndexNone}
	start, end, err := strat.probe(f, size, &p.ctx)
	if err != nil {
		return codec.Wrap(op, path, err)
	}
	if end <= start {
		return audio.WrapError(audio.KindDecoding, op, path, ErrNoAudioData)
	}
	p.ctx.DataStart, p.ctx.DataEnd, p.ctx.Offset = start, end, start
	p.base = start

	if p.chunkSize <= 0 {
		p.chunkSize = int(p.OptimalChunkSize(size))
	}
	p.state = Ready
	p.log.Debug("pipeline initialized", "path", path, "format", format, "strategy", p.ctx.Strategy,
		"rate", p.ctx.SampleRate, "channels", p.ctx.Channels, "duration", p.ctx.TotalDuration, "chunk", p.chunkSize)
	return nil
}

func newStrategy(f audio.Format, lib *codec.Library) (strategy, error) {
	switch f {
	case audio.FormatWAV, audio.FormatAIFF:
		return &pcmStrategy{lib: lib, format: f}, nil
	case audio.FormatMP3:
		return &mp3Strategy{lib: lib}, nil
	case audio.FormatFLAC:
		return &flacStrategy{lib: lib}, nil
	case audio.FormatOggVorbis, audio.FormatOpus:
		return &pageStrategy{lib: lib, format: f}, nil
	case audio.FormatMP4:
		return &boxStrategy{lib: lib}, nil
	}
	return nil, fmt.Errorf("%w: %s", codec.ErrUnknownFormat, f)
}

// OptimalChunkSize returns the read size for a file of fileSize bytes in the
// detected format. Before Initialize the format is unknown and the generic
// fraction applies.
func (p *Pipeline) OptimalChunkSize(fileSize int64) int64 {
	return codec.OptimalChunkSize(p.ctx.Format, fileSize)
}

func (p *Pipeline) ready(op string) error {
	switch p.state {
	case Ready:
		return nil
	case Disposed:
		return audio.WrapError(audio.KindDecoding, op, p.path, ErrDisposed)
	default:
		return audio.WrapError(audio.KindDecoding, op, p.path, ErrNotInitialized)
	}
}

// NextChunk reads the next chunk of audio data from the file. It returns
// io.EOF once the data range is exhausted. The returned slice is reused by
// the next call.
func (p *Pipeline) NextChunk() ([]byte, error) {
	const op = "pipeline.nextChunk"

	if err := p.ready(op); err != nil {
		return nil, err
	}
	left := p.ctx.DataEnd - p.ctx.Offset
	if left <= 0 {
		return nil, io.EOF
	}
	n := int(min(int64(p.chunkSize), left))
	if cap(p.readBuf) < n {
		p.readBuf = make([]byte, n)
	}
	buf := p.readBuf[:n]
	got, err := p.file.ReadAt(buf, p.ctx.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, audio.WrapError(audio.KindFileAccess, op, p.path, err)
	}
	if got == 0 {
		return nil, io.EOF
	}
	p.ctx.Offset += int64(got)
	p.ctx.MaxChunk = max(p.ctx.MaxChunk, got)
	return buf[:got], nil
}

// ProcessChunk decodes b, the bytes following the previous chunk. Only
// whole units are decoded; a trailing partial unit stays buffered.
func (p *Pipeline) ProcessChunk(b []byte) ([]Segment, error) {
	const op = "pipeline.processChunk"

	if err := p.ready(op); err != nil {
		return nil, err
	}
	p.pending = append(p.pending, b...)
	return p.decode(op, false)
}

// Flush decodes what remains buffered at end of stream. Incomplete trailing
// bytes are dropped.
func (p *Pipeline) Flush() ([]Segment, error) {
	const op = "pipeline.flush"

	if err := p.ready(op); err != nil {
		return nil, err
	}
	return p.decode(op, true)
}

func (p *Pipeline) decode(op string, final bool) ([]Segment, error) {
	p.state = Decoding
	defer func() { p.state = Ready }()

	consumed, samples, err := p.strat.decode(p.pending, p.base, final)
	consumed = min(max(consumed, 0), len(p.pending))
	if final {
		consumed = len(p.pending)
	}
	p.base += int64(consumed)
	p.pending = append(p.pending[:0], p.pending[consumed:]...)
	p.ctx.BufferedBytes = len(p.pending)
	if err != nil {
		return nil, codec.Wrap(op, p.path, err)
	}

	seg, ok := p.segment(samples)
	if !ok {
		return nil, nil
	}
	return []Segment{seg}, nil
}

// segment applies seek trimming and the exact stream length to samples.
func (p *Pipeline) segment(samples []float32) (Segment, bool) {
	rate, channels := p.strat.output()
	if channels <= 0 || rate <= 0 {
		return Segment{}, false
	}
	samples = samples[:len(samples)-len(samples)%channels]

	if p.trim > 0 {
		drop := min(p.trim, int64(len(samples)/channels))
		samples = samples[drop*int64(channels):]
		p.trim -= drop
	}
	frames := int64(len(samples) / channels)
	if limit := p.ctx.TotalFrames; limit > 0 && p.frame+frames > limit {
		frames = max(limit-p.frame, 0)
		samples = samples[:frames*int64(channels)]
	}
	if frames == 0 {
		return Segment{}, false
	}

	seg := Segment{
		Samples:    samples,
		Channels:   channels,
		SampleRate: rate,
		Start:      frameTime(p.frame, rate),
	}
	p.frame += frames
	p.ctx.Position = frameTime(p.frame, rate)
	return seg, true
}

func frameTime(frame int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frame) * time.Second / time.Duration(rate)
}

// Progress is the fraction of the audio data read so far.
func (p *Pipeline) Progress() float64 {
	span := p.ctx.DataEnd - p.ctx.DataStart
	if span <= 0 {
		return 0
	}
	return min(max(float64(p.ctx.Offset-p.ctx.DataStart)/float64(span), 0), 1)
}

// Run reads and decodes the whole file, calling fn for every segment. ctx
// is checked between chunks, so cancellation takes effect within one chunk.
func (p *Pipeline) Run(ctx context.Context, fn func(Segment) error) error {
	const op = "pipeline.run"

	for {
		if err := ctx.Err(); err != nil {
			return audio.WrapError(audio.KindCancelled, op, p.path, err)
		}
		chunk, err := p.NextChunk()
		if errors.Is(err, io.EOF) {
			segs, err := p.Flush()
			if err != nil {
				return err
			}
			return emit(segs, fn)
		}
		if err != nil {
			return err
		}
		segs, err := p.ProcessChunk(chunk)
		if err != nil {
			return err
		}
		if err := emit(segs, fn); err != nil {
			return err
		}
	}
}

func emit(segs []Segment, fn func(Segment) error) error {
	for _, s := range segs {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// SeekToTime moves decoding to pos. Formats with a time index (sample
// tables, granule positions, FLAC seek tables, PCM) land exactly on pos;
// the others seek by duration ratio and report Exact false.
func (p *Pipeline) SeekToTime(pos time.Duration) (SeekResult, error) {
	const op = "pipeline.seekToTime"

	if err := p.ready(op); err != nil {
		return SeekResult{}, err
	}
	p.state = Seeking
	defer func() { p.state = Ready }()

	rate, _ := p.strat.output()
	pos = max(pos, 0)
	if d := p.ctx.TotalDuration; d > 0 {
		pos = min(pos, d)
	}
	want := int64(pos.Seconds() * float64(rate))
	if p.ctx.TotalFrames > 0 {
		want = min(want, p.ctx.TotalFrames)
	}

	sp, err := p.strat.seek(p.file, want, &p.ctx)
	if err != nil {
		return SeekResult{}, codec.Wrap(op, p.path, err)
	}
	sp.offset = min(max(sp.offset, p.ctx.DataStart), p.ctx.DataEnd)

	p.pending = p.pending[:0]
	p.ctx.BufferedBytes = 0
	p.base, p.ctx.Offset = sp.offset, sp.offset
	p.frame, p.trim = sp.frame, 0
	if sp.exact && want > sp.frame {
		p.trim = want - sp.frame
		p.frame = want
	}
	p.ctx.Position = frameTime(p.frame, rate)

	p.log.Debug("seek", "path", p.path, "target", pos, "offset", sp.offset, "exact", sp.exact)
	return SeekResult{Position: p.ctx.Position, Exact: sp.exact}, nil
}

// FormatMetadata describes the stream. Before Initialize it returns
// conservative defaults.
func (p *Pipeline) FormatMetadata() Metadata {
	if p.strat == nil || p.state == Uninitialized || p.state == Initializing {
		return defaultMetadata
	}
	return Metadata{
		Format:        p.ctx.Format,
		Strategy:      p.ctx.Strategy,
		SampleRate:    p.ctx.SampleRate,
		Channels:      p.ctx.Channels,
		BitDepth:      p.ctx.BitDepth,
		Duration:      p.ctx.TotalDuration,
		DurationExact: p.ctx.DurationExact,
		SeekIndex:     p.ctx.SeekIndex,
	}
}

// EstimateDuration returns the known or estimated stream length, or 0.
func (p *Pipeline) EstimateDuration() time.Duration {
	return p.FormatMetadata().Duration
}

// Dispose releases the file and decoder state. It is safe to call more
// than once.
func (p *Pipeline) Dispose() error {
	if p.state == Disposed {
		return nil
	}
	err := p.release()
	p.state = Disposed
	return err
}

func (p *Pipeline) release() error {
	var errs []error
	if p.strat != nil {
		errs = append(errs, p.strat.close())
		p.strat = nil
	}
	if p.file != nil {
		errs = append(errs, p.file.Close())
		p.file = nil
	}
	p.pending, p.readBuf = nil, nil
	p.ctx.BufferedBytes = 0
	return errors.Join(errs...)
}
