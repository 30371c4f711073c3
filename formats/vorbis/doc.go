// SPDX-License-Identifier: EPL-2.0

// Package vorbis decodes Vorbis audio carried in Ogg.
//
// Decoder reads a whole Ogg Vorbis file through github.com/jfreymuth/oggvorbis
// and returns an audio.Source. For chunked decoding the container is handled
// by package ogg, and PacketDecoder turns the assembled packets into samples
// with github.com/jfreymuth/vorbis:
//
//	dec, err := vorbis.NewPacketDecoder(headers) // ident, comment, setup
//	if err != nil {
//	    return err
//	}
//	samples, err := dec.Decode(packets)
//
// Output is interleaved float32 in [-1, 1]. After a seek call Reset; the
// first packet decoded afterwards only primes the overlap window.
package vorbis
