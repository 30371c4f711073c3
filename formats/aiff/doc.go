// SPDX-License-Identifier: EPL-2.0

// Package aiff reads AIFF and AIFF-C files.
//
// ParseHeader walks the IFF chunks and reports where the SSND sample data
// starts and how it is encoded, including the 80-bit extended sample rate of
// the COMM chunk. Supported AIFF-C compression types are NONE, twos, sowt
// (little-endian), fl32, fl64 and raw.
//
// Decoder produces an audio.Source for a whole stream, using
// github.com/go-audio/aiff for plain AIFF:
//
//	source, err := aiff.Decoder{}.Decode(file)
//	buf := make([]float32, 4096)
//	n, err := source.ReadSamples(buf)
package aiff
