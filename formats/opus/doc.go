// SPDX-License-Identifier: EPL-2.0

// Package opus decodes Opus audio carried in Ogg, using libopus through
// gopkg.in/hraban/opus.v2.
//
// Opus always decodes at 48 kHz here. The OpusHead pre-skip is removed from
// the start of the stream and the final granule position trims the end.
// Only channel mapping family 0 (mono and stereo) is supported.
//
// The cgo bindings need libopus. Build with the nolibopusfile tag when
// libopusfile is not installed; this package does not use it.
package opus
