// SPDX-License-Identifier: EPL-2.0

// Package codec is the engine's boundary to the format decoders.
//
// A single Library per process holds the decoder registry and the outcome of
// probing the Opus runtime (libopus through cgo). Callers Acquire it once
// and Release it when done; initialisation happens on the first Acquire
// only, so concurrent tasks never re-initialise codec state:
//
//	lib := codec.Default()
//	if err := lib.Acquire(); err != nil {
//	    return err
//	}
//	defer lib.Release()
//
//	pcm, err := lib.DecodeWhole(ctx, data, codec.DetectFormat(data, path), codec.Options{Mono: true})
//
// DecodeWhole decodes an in-memory file. NewUnitDecoder returns a decoder
// for whole frames, packets or PCM runs, which the chunked pipeline feeds.
// Every failure is reported as an *audio.Error whose kind follows the
// ResultCode mapping: InvalidFormat is UnsupportedFormatException and the
// other codes are DecodingException.
package codec
