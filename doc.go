// SPDX-License-Identifier: EPL-2.0

// Package audwave turns audio files into compact amplitude summaries for
// waveform displays, without blocking the caller on decode work.
//
// An Engine owns a bounded pool of worker units, a result cache and the
// process-wide codec library. Requests return at once with a handle;
// decoding happens on the workers and results are cached by a fingerprint
// of the file and the waveform configuration.
//
// # Supported Formats
//
//   - WAV and AIFF (8/16/24/32-bit integer and float PCM)
//   - MP3 (MPEG-1/2/2.5 layer III, Xing/VBRI aware)
//   - FLAC
//   - Ogg Vorbis and Ogg Opus (Opus needs libopus)
//   - MP4/M4A with PCM sample entries; AAC tracks are reported unsupported
//
// # Quick Start
//
//	eng, err := audwave.New(config.Default())
//	if err != nil {
//		return err
//	}
//	defer eng.Dispose()
//
//	data, err := eng.Generate(ctx, "song.mp3", waveform.DefaultConfig())
//	// data.Amplitudes has exactly Resolution values in [0, 1]
//
// # Streaming
//
// GenerateStreaming reports progress and provisional amplitudes while the
// file is decoded:
//
//	h := eng.GenerateStreaming(ctx, "long.flac", cfg)
//	for ev := range h.Events() {
//		if ev.Complete {
//			// ev.Data or ev.Err
//		}
//	}
//
// # Errors
//
// Every failure is an *audio.Error whose Kind tells file access problems,
// unsupported formats, decoding failures, bad configuration, protocol
// corruption, worker crashes and cancellation apart:
//
//	if errors.Is(err, audio.ErrUnsupportedFormat) { ... }
//
// Files larger than Config.ChunkThreshold are decoded chunk by chunk with
// bounded memory; see the pipeline package. The worker pool, protocol and
// cache are in the pool, protocol and cache packages.
package audwave
