//go:build !opus

// SPDX-License-Identifier: EPL-2.0

package opus

// Probe always fails: this build carries no libopus. Rebuild with
// -tags opus, and libopus-dev installed, to decode Opus audio.
func Probe() error { return ErrUnavailable }

// PacketDecoder stands in for the libopus decoder. It cannot be created.
type PacketDecoder struct {
	channels int
}

// NewPacketDecoder returns ErrUnavailable for supported mappings.
func NewPacketDecoder(head Head) (*PacketDecoder, error) {
	if head.Mapping != 0 || head.Channels > 2 {
		return nil, ErrUnsupportedMapping
	}
	return nil, ErrUnavailable
}

func (d *PacketDecoder) SampleRate() int { return SampleRate }
func (d *PacketDecoder) Channels() int   { return d.channels }
func (d *PacketDecoder) Close() error    { return nil }
func (d *PacketDecoder) Reset()          {}

func (d *PacketDecoder) Decode([][]byte) ([]float32, error) {
	return nil, ErrUnavailable
}
