// SPDX-License-Identifier: EPL-2.0

package flac

import (
	"errors"
	"io"
)

// FrameDecoder decodes batches of whole frames cut by SplitFrames. FLAC
// frames are independent, so batches may come from anywhere in the stream.
type FrameDecoder struct {
	md  *Metadata
	buf []byte
}

func NewFrameDecoder(md *Metadata) *FrameDecoder {
	return &FrameDecoder{md: md}
}

func (d *FrameDecoder) SampleRate() int { return d.md.Info.SampleRate }
func (d *FrameDecoder) Channels() int   { return d.md.Info.Channels }
func (d *FrameDecoder) Reset()          {}

// Decode returns the interleaved samples of frames.
func (d *FrameDecoder) Decode(frames [][]byte) ([]float32, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	d.buf = d.buf[:0]
	for _, f := range frames {
		d.buf = append(d.buf, normalize(f, d.md.Info)...)
	}

	st, err := newStream(d.md.InfoBlock, d.buf)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var out []float32
	for {
		out, err = st.next(out)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
