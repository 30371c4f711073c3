// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"time"

	"github.com/ik5/audwave/audio"
)

// State is the lifecycle position of a Pipeline.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Decoding
	Seeking
	Disposed
)

var stateNames = [...]string{"uninitialized", "initializing", "ready", "decoding", "seeking", "disposed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Strategy is the decode and seek approach chosen for a format.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyPCM
	StrategyFrameBased
	StrategyPageIndexed
	StrategyBoxIndexed
)

var strategyNames = [...]string{"none", "pcm", "frame-based", "page-indexed", "box-indexed"}

func (s Strategy) String() string {
	if s >= 0 && int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "unknown"
}

// StrategyFor returns the strategy that handles f.
func StrategyFor(f audio.Format) (Strategy, bool) {
	switch f {
	case audio.FormatWAV, audio.FormatAIFF:
		return StrategyPCM, true
	case audio.FormatMP3, audio.FormatFLAC:
		return StrategyFrameBased, true
	case audio.FormatOggVorbis, audio.FormatOpus:
		return StrategyPageIndexed, true
	case audio.FormatMP4:
		return StrategyBoxIndexed, true
	}
	return StrategyNone, false
}

// Seek index kinds reported in Context.SeekIndex.
const (
	IndexNone        = "none"
	IndexByteExact   = "byte-exact"
	IndexXingTOC     = "xing-toc"
	IndexSeekTable   = "seektable"
	IndexGranule     = "granule"
	IndexSampleTable = "sample-table"
)

// Context is the decode state of one file. It belongs to exactly one
// Pipeline for the file's lifetime.
type Context struct {
	Format        audio.Format
	Strategy      Strategy
	SampleRate    int // of the source
	Channels      int // of the source
	BitDepth      int // 0 for compressed formats
	TotalDuration time.Duration
	// TotalFrames is the exact stream length in output frames, or 0.
	TotalFrames   int64
	DurationExact bool
	SeekIndex     string

	// Position is the start time of the next segment.
	Position      time.Duration
	BufferedBytes int
	FileSize      int64
	DataStart     int64
	DataEnd       int64
	// Offset is where NextChunk reads next.
	Offset   int64
	MaxChunk int
}

// Segment is a run of decoded interleaved samples.
type Segment struct {
	Samples    []float32
	Channels   int
	SampleRate int
	Start      time.Duration
}

// Frames is the number of sample frames in s.
func (s Segment) Frames() int {
	if s.Channels == 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// Duration is the play time covered by s.
func (s Segment) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// SeekResult is where a seek actually landed.
type SeekResult struct {
	Position time.Duration
	Exact    bool
}

// Metadata summarises the detected stream.
type Metadata struct {
	Format        audio.Format
	Strategy      Strategy
	SampleRate    int
	Channels      int
	BitDepth      int
	Duration      time.Duration
	DurationExact bool
	SeekIndex     string
}

// defaultMetadata is reported before a file is probed.
var defaultMetadata = Metadata{
	Format:     audio.FormatUnknown,
	SampleRate: 44100,
	Channels:   2,
	BitDepth:   16,
	SeekIndex:  IndexNone,
}
