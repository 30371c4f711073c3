// SPDX-License-Identifier: EPL-2.0

package opus

import (
	"fmt"
	"io"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/formats/ogg"
)

// Decoder decodes a whole Ogg Opus file. Only the first logical stream is
// read. The end of the output is trimmed to the last granule position.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading opus data: %w", err)
	}

	var (
		asm     ogg.Assembler
		head    *Head
		dec     *PacketDecoder
		samples []float32
		granule int64 = -1
	)
	for off := 0; ; {
		i, p, _, ok := ogg.FindPage(data, off)
		if !ok {
			break
		}
		off = i + p.Size
		if head != nil && p.Serial != asm.Serial() {
			continue
		}
		for _, pkt := range asm.Push(p) {
			switch {
			case head == nil:
				h, err := ParseHead(pkt.Data)
				if err != nil {
					return nil, err
				}
				head = &h
				if dec, err = NewPacketDecoder(h); err != nil {
					return nil, err
				}
			case IsTags(pkt.Data):
			default:
				out, err := dec.Decode([][]byte{pkt.Data})
				if err != nil {
					return nil, err
				}
				samples = append(samples, out...)
			}
			if pkt.Granule >= 0 {
				granule = pkt.Granule
			}
		}
	}

	if head == nil {
		return nil, ErrNotOpusHead
	}
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	if total := granule - int64(head.PreSkip); granule >= 0 && total >= 0 {
		if want := int(total) * head.Channels; want < len(samples) {
			samples = samples[:want]
		}
	}

	return audio.NewBufferSource(SampleRate, head.Channels, samples), nil
}
