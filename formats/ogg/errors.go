// SPDX-License-Identifier: EPL-2.0

package ogg

import "errors"

var (
	// ErrNotOggPage indicates the bytes do not start with a capture pattern
	ErrNotOggPage = errors.New("not an Ogg page")

	// ErrIncompletePage indicates the buffer ends inside a page
	ErrIncompletePage = errors.New("incomplete Ogg page")

	// ErrBadChecksum indicates a page whose CRC-32 does not match
	ErrBadChecksum = errors.New("Ogg page checksum mismatch")

	// ErrUnsupportedVersion indicates a stream structure version other than 0
	ErrUnsupportedVersion = errors.New("unsupported Ogg version")
)
