// SPDX-License-Identifier: EPL-2.0

package vorbis

import "errors"

var (
	// ErrNotVorbisHeader indicates a packet is not a Vorbis header of the expected type
	ErrNotVorbisHeader = errors.New("not a Vorbis header packet")

	// ErrMissingHeaders indicates fewer than three header packets were supplied
	ErrMissingHeaders = errors.New("Vorbis stream needs identification, comment and setup headers")

	// ErrCorruptStream indicates the decoder rejected stream data
	ErrCorruptStream = errors.New("corrupt Vorbis stream")
)
