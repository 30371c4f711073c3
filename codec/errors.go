// SPDX-License-Identifier: EPL-2.0

package codec

import "errors"

var (
	// ErrUnknownFormat indicates no decoder is registered for the format
	ErrUnknownFormat = errors.New("no decoder for format")

	// ErrOpusUnavailable indicates the Opus runtime failed its start-up probe
	ErrOpusUnavailable = errors.New("opus runtime unavailable")

	// ErrOutOfMemory indicates a decode would exceed its sample budget
	ErrOutOfMemory = errors.New("decode exceeds memory budget")

	// ErrNotAcquired indicates a call on a Library with no outstanding Acquire
	ErrNotAcquired = errors.New("codec library not acquired")

	// ErrEmptyInput indicates zero bytes of audio data
	ErrEmptyInput = errors.New("empty input")
)
