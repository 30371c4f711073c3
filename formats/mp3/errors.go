// SPDX-License-Identifier: EPL-2.0

package mp3

import "errors"

var (
	// ErrNoFrameSync indicates no valid MPEG audio frame header was found
	ErrNoFrameSync = errors.New("no MPEG audio frame sync found")

	// ErrUnsupportedLayer indicates a Layer I/II stream; only Layer III is decoded
	ErrUnsupportedLayer = errors.New("only MPEG Layer III is supported")
)
