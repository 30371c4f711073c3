//go:build opus

// SPDX-License-Identifier: EPL-2.0

package opus

import (
	"fmt"

	hopus "gopkg.in/hraban/opus.v2"
)

// Probe reports whether libopus can create a decoder.
func Probe() error {
	if _, err := hopus.NewDecoder(SampleRate, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// PacketDecoder decodes Opus packets at 48 kHz through libopus, trimming
// the stream's pre-skip from the start.
type PacketDecoder struct {
	dec      *hopus.Decoder
	channels int
	skip     int // samples per channel still to drop
	pcm      []float32
}

// NewPacketDecoder creates a decoder for the stream described by head.
// Only mapping family 0 (mono or stereo) is supported.
func NewPacketDecoder(head Head) (*PacketDecoder, error) {
	if head.Mapping != 0 || head.Channels > 2 {
		return nil, ErrUnsupportedMapping
	}
	dec, err := hopus.NewDecoder(SampleRate, head.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus decoder: %w", err)
	}
	return &PacketDecoder{
		dec:      dec,
		channels: head.Channels,
		skip:     head.PreSkip,
		pcm:      make([]float32, maxFrameSamples*head.Channels),
	}, nil
}

func (d *PacketDecoder) SampleRate() int { return SampleRate }
func (d *PacketDecoder) Channels() int   { return d.channels }
func (d *PacketDecoder) Close() error    { return nil }

// Reset starts a fresh decoder state after a seek. Pre-skip only applies to
// the start of the stream and is not re-armed.
func (d *PacketDecoder) Reset() {
	if dec, err := hopus.NewDecoder(SampleRate, d.channels); err == nil {
		d.dec = dec
	}
	d.skip = 0
}

// Decode returns the interleaved samples of packets.
func (d *PacketDecoder) Decode(packets [][]byte) ([]float32, error) {
	var out []float32
	for _, p := range packets {
		if len(p) == 0 {
			continue
		}
		n, err := d.dec.DecodeFloat32(p, d.pcm)
		if err != nil {
			return out, fmt.Errorf("opus decode error: %w", err)
		}
		frames := d.pcm[:n*d.channels]
		if d.skip > 0 {
			drop := min(d.skip, n)
			d.skip -= drop
			frames = frames[drop*d.channels:]
		}
		out = append(out, frames...)
	}
	return out, nil
}
