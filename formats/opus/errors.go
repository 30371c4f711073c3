// SPDX-License-Identifier: EPL-2.0

package opus

import "errors"

var (
	// ErrNotOpusHead indicates the first packet is not an OpusHead header
	ErrNotOpusHead = errors.New("not an OpusHead packet")

	// ErrUnsupportedMapping indicates a multistream channel mapping
	ErrUnsupportedMapping = errors.New("unsupported Opus channel mapping")

	// ErrUnavailable indicates libopus is missing from the build or failed
	// to initialise
	ErrUnavailable = errors.New("opus runtime unavailable")

	// ErrNoAudio indicates the stream holds no audio packets
	ErrNoAudio = errors.New("Opus stream has no audio packets")
)
