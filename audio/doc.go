// SPDX-License-Identifier: EPL-2.0

// Package audio provides the shared building blocks of the waveform engine.
//
// # Source Interface
//
// The Source interface is the foundation of every whole-file decode:
//
//	type Source interface {
//	    SampleRate() int
//	    Channels() int
//	    ReadSamples(dst []float32) (int, error)
//	    BufSize() int
//	    Close() error
//	}
//
// Format decoders in formats/* return a Source; MonoMixer and Resampler wrap
// one, and Collect drains one into memory.
//
// # Formats
//
// Format enumerates the containers the engine understands. DetectFormat
// recognises them by signature from the first SniffLen bytes and
// FormatFromExt falls back to the file extension:
//
//	f := audio.DetectFormat(head)
//	if f == audio.FormatUnknown {
//	    f = audio.FormatFromExt(path)
//	}
//
// # Errors
//
// Every failure reported to a caller carries a Kind. Kinds have stable wire
// names so they survive a trip through the message protocol:
//
//	err := audio.NewError(audio.KindDecoding, "pipeline.initialize", "empty file")
//	errors.Is(err, audio.ErrDecoding) // true
//	audio.KindOf(err).String()        // "DecodingException"
//
// # Analysis Resampling
//
// Resampler lowers the rate with peak-hold decimation so that amplitude
// envelopes keep their peaks, and raises it with cubic interpolation.
//
// # Sample Format
//
// Audio samples are float32 in the range [-1.0, 1.0], interleaved by channel.
package audio
