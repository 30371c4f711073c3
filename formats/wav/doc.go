// SPDX-License-Identifier: EPL-2.0

// Package wav reads RIFF/WAVE files.
//
// ParseHeader locates the data chunk and describes its sample layout, which
// is all the chunked pipeline needs to read PCM frames straight from the file:
//
//	hdr, err := wav.ParseHeader(file, size)
//	// frames live in [hdr.DataOffset, hdr.DataOffset+hdr.DataSize)
//
// Decoder turns a complete WAV stream into an audio.Source for whole-file
// decoding. Integer PCM (8, 16, 24 and 32 bit) is read through
// github.com/go-audio/wav; IEEE float data (32 and 64 bit) and
// WAVE_FORMAT_EXTENSIBLE headers are handled by the package itself.
package wav
