// SPDX-License-Identifier: EPL-2.0

// Package flac reads FLAC streams.
//
// ParseMetadata walks the metadata blocks and returns STREAMINFO, the
// SEEKTABLE (when present) and the offset of the first audio frame.
// SplitFrames cuts raw bytes into whole frames: a frame header is only
// accepted when its CRC-8 matches, and a frame boundary only when the
// frame's CRC-16 footer matches, so sync codes occurring inside sample data
// are skipped.
//
// Samples are decoded by github.com/mewkiz/flac. FrameDecoder handles any
// batch of whole frames, which lets a file be decoded in bounded chunks;
// Decoder handles a whole stream and returns an audio.Source.
package flac
