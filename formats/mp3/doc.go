// SPDX-License-Identifier: EPL-2.0

// Package mp3 reads MPEG audio streams.
//
// The package works at two levels. ParseFrameHeader, FindSync, ID3v2Size and
// ParseVBR expose the frame structure of a stream so that it can be decoded
// in bounded chunks: a chunk is cut at frame boundaries and FindSync
// resynchronises after damaged bytes by requiring two consecutive compatible
// headers. FrameDecoder then decodes batches of whole frames, replaying the
// previous two frames so the Layer III bit reservoir resolves.
//
// Decoder decodes a complete stream through github.com/hajimehoshi/go-mp3
// and returns an audio.Source. Output is always stereo.
//
// Xing/Info and VBRI headers provide the frame count (and so the exact
// duration) of VBR files and a coarse seek table:
//
//	sync, _ := mp3.FindSync(head, 0)
//	vbr, ok := mp3.ParseVBR(head[sync.Offset:], sync.Header)
//	if ok {
//	    off, _ := vbr.SeekOffset(0.5, audioBytes) // roughly the middle
//	}
package mp3
