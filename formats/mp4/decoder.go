// SPDX-License-Identifier: EPL-2.0

package mp4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ik5/audwave/audio"
)

// Decoder decodes the first sound track of an MP4/QuickTime file holding
// PCM samples. Compressed tracks (AAC, ALAC) are indexed by ParseFile but
// rejected here with ErrUnsupportedCodec.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading mp4 data: %w", err)
	}
	rd := bytes.NewReader(data)

	t, err := ParseFile(rd, int64(len(data)))
	if err != nil {
		return nil, err
	}
	if !t.PCM() {
		return nil, UnsupportedCodecError(t)
	}

	raw := make([]byte, 0, t.SampleCount*t.SampleSize(0))
	for c := t.CursorAt(0); !c.Done(); c.Advance() {
		end := c.End()
		if c.Offset() < 0 || end > int64(len(data)) {
			return nil, fmt.Errorf("%w: sample %d outside file", ErrMalformedBox, c.Sample())
		}
		raw = append(raw, data[c.Offset():end]...)
	}

	return audio.NewPCMSource(bytes.NewReader(raw), t.Format, t.SampleRate, t.Channels), nil
}

// UnsupportedCodecError describes why t cannot be decoded.
func UnsupportedCodecError(t *Track) error {
	if t.Codec == "mp4a" {
		return fmt.Errorf("%w: mp4a object type %#02x", ErrUnsupportedCodec, t.ObjectType)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedCodec, t.Codec)
}
