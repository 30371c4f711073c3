// SPDX-License-Identifier: EPL-2.0

package flac

import "errors"

var (
	// ErrNotFlacFile indicates the stream does not start with the fLaC marker
	ErrNotFlacFile = errors.New("not a FLAC file")

	// ErrTruncatedHeader indicates a metadata block runs past the end of the file
	ErrTruncatedHeader = errors.New("truncated FLAC metadata")

	// ErrNoStreamInfo indicates the mandatory STREAMINFO block is missing or malformed
	ErrNoStreamInfo = errors.New("missing STREAMINFO block")

	// ErrNoFrameSync indicates no valid frame header was found
	ErrNoFrameSync = errors.New("no FLAC frame sync found")
)
