// SPDX-License-Identifier: EPL-2.0

package audio

import "fmt"

// MonoMixer downmixes an interleaved Source to a single channel by averaging.
type MonoMixer struct {
	src Source
	tmp []float32
}

func NewMonoMixer(src Source) *MonoMixer {
	return &MonoMixer{
		src: src,
		tmp: make([]float32, 8192),
	}
}

func (m *MonoMixer) SampleRate() int { return m.src.SampleRate() }
func (m *MonoMixer) Channels() int   { return 1 }
func (m *MonoMixer) BufSize() int    { return m.src.BufSize() }

func (m *MonoMixer) Close() error {
	if err := m.src.Close(); err != nil {
		return fmt.Errorf("closing mixer source: %w", err)
	}
	return nil
}

func (m *MonoMixer) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	channels := m.src.Channels()
	if channels <= 1 {
		return m.src.ReadSamples(dst)
	}

	need := len(dst) * channels
	if cap(m.tmp) < need {
		m.tmp = make([]float32, max(need, 8192))
	}

	n, err := m.src.ReadSamples(m.tmp[:need])
	if n == 0 {
		return 0, err
	}

	return MixFrames(dst, m.tmp[:n], channels), err
}

// MixFrames averages each interleaved frame of src into dst and returns the
// number of mono samples written. A trailing partial frame is ignored.
// dst may alias src.
func MixFrames(dst, src []float32, channels int) int {
	if channels <= 1 {
		return copy(dst, src)
	}

	frames := min(len(src)/channels, len(dst))

	switch channels {
	case 2:
		for f := range frames {
			i := f << 1
			dst[f] = (src[i] + src[i+1]) * 0.5
		}
	default:
		inv := float32(1) / float32(channels)
		for f := range frames {
			base := f * channels
			var sum float32
			for c := range channels {
				sum += src[base+c]
			}
			dst[f] = sum * inv
		}
	}

	return frames
}
