// SPDX-License-Identifier: EPL-2.0

// Package protocol defines the messages exchanged between the pool
// coordinator and its worker units, and their two wire encodings.
//
// The binary form is a framed layout meant for messages that carry amplitude
// arrays: floats are written as raw little-endian float64 values, and bodies
// may be zstd compressed. The JSON form is for small control messages and is
// easy to read in logs. Both round-trip every message exactly, and Decode
// detects the encoding on its own.
//
// Every message is validated before it is encoded and after it is decoded.
// Malformed input always fails with an audio.KindMessageSerialization error.
package protocol
