// SPDX-License-Identifier: EPL-2.0

// Package mp4 indexes the first sound track of an ISO base media file
// (MP4, M4A, QuickTime).
//
// ParseFile checks the ftyp brand and reads the track's sample table
// (stsd, stts, stsc, stsz and stco or co64) into a compact chunk list, so
// any sample's file offset and decode time can be found without scanning.
// A Cursor walks samples in file order and is what chunked decoding and
// exact seeking are built on.
//
// Uncompressed sample entries (sowt, twos, raw, in24, in32, fl32, fl64 and
// lpcm) are decoded. AAC tracks are indexed but not decoded.
package mp4
