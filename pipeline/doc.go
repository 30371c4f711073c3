// SPDX-License-Identifier: EPL-2.0

// Package pipeline decodes audio files incrementally, one bounded chunk at a
// time, so that files of any size are processed in constant memory.
//
// A Pipeline moves through the states Uninitialized, Initializing, Ready,
// Decoding, Seeking and Disposed. Initialize opens the file, detects its
// format and probes the container, selecting one of four strategies:
//
//   - PCM: WAV and AIFF, byte-exact seeking.
//   - FrameBased: MP3 and FLAC, frame scanning with resynchronisation.
//   - PageIndexed: Ogg Vorbis and Opus, granule bisection.
//   - BoxIndexed: MP4, sample table lookup.
//
// ProcessChunk decodes only whole units (frames, pages, samples) and keeps a
// trailing partial unit buffered for the next chunk; Flush ends the stream
// and drops whatever incomplete bytes remain.
package pipeline
