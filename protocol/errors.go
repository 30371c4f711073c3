// SPDX-License-Identifier: EPL-2.0

package protocol

import "errors"

var (
	// ErrTruncated indicates the input ended inside a frame or field
	ErrTruncated = errors.New("truncated message")

	// ErrBadMagic indicates the input does not start with a known frame marker
	ErrBadMagic = errors.New("unrecognised message encoding")

	// ErrUnsupportedVersion indicates a binary frame from a newer protocol
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrUnknownType indicates a type tag outside the message set
	ErrUnknownType = errors.New("unknown message type")

	// ErrTrailingData indicates bytes left over after a complete frame
	ErrTrailingData = errors.New("trailing data after message")

	// ErrInvalidMessage indicates a message that fails validation
	ErrInvalidMessage = errors.New("invalid message")

	// ErrNotBatch indicates DecodeBatch was given a single message
	ErrNotBatch = errors.New("input is not a batch")

	// ErrIsBatch indicates Decode was given a batch
	ErrIsBatch = errors.New("input is a batch")
)
