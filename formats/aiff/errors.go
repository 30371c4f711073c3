// SPDX-License-Identifier: EPL-2.0

package aiff

import "errors"

var (
	// ErrNotAiffFile indicates the file is not a valid AIFF file
	ErrNotAiffFile = errors.New("not an AIFF file")

	// ErrUnsupportedCompression indicates an AIFF-C compression type that is not plain PCM
	ErrUnsupportedCompression = errors.New("unsupported AIFF-C compression")

	// ErrUnsupportedAiffLayout indicates an unsupported AIFF layout
	ErrUnsupportedAiffLayout = errors.New("unsupported AIFF layout")

	// ErrTruncatedHeader indicates the chunk walk ran past the end of the file
	ErrTruncatedHeader = errors.New("truncated AIFF header")
)
