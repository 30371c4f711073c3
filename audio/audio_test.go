// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/ik5/audwave/internal/audiotest"
)

type nopDecoder struct{}

func (nopDecoder) Decode(io.Reader) (Source, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if _, ok := reg.Get(FormatWAV); ok {
		t.Fatal("empty registry returned a decoder")
	}

	reg.Register(FormatWAV, nopDecoder{})
	reg.Register(FormatMP3, nopDecoder{})

	if _, ok := reg.Get(FormatWAV); !ok {
		t.Error("Get(FormatWAV) not found after Register")
	}
	if got := len(reg.Formats()); got != 2 {
		t.Errorf("Formats() len = %d, want 2", got)
	}
}

func TestBufferSource(t *testing.T) {
	t.Parallel()

	src := NewBufferSource(8000, 2, []float32{1, 2, 3, 4, 5, 6})
	buf := make([]float32, 4)

	n, err := src.ReadSamples(buf)
	if n != 4 || err != nil {
		t.Fatalf("first read = (%d, %v), want (4, nil)", n, err)
	}
	n, err = src.ReadSamples(buf)
	if n != 2 || err != io.EOF {
		t.Fatalf("second read = (%d, %v), want (2, EOF)", n, err)
	}
	n, err = src.ReadSamples(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("third read = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestMixFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      []float32
		channels int
		want     []float32
	}{
		{"mono copy", []float32{0.1, 0.2}, 1, []float32{0.1, 0.2}},
		{"stereo", []float32{1, 0, 0.5, 0.5, -1, 1}, 2, []float32{0.5, 0.5, 0}},
		{"three channels", []float32{0.3, 0.3, 0.3, 0.9, 0, 0}, 3, []float32{0.3, 0.3}},
		{"partial frame dropped", []float32{1, 1, 1}, 2, []float32{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dst := make([]float32, len(tt.src))
			n := MixFrames(dst, tt.src, tt.channels)
			if n != len(tt.want) {
				t.Fatalf("MixFrames() = %d, want %d", n, len(tt.want))
			}
			for i := range tt.want {
				if math.Abs(float64(dst[i]-tt.want[i])) > 1e-6 {
					t.Errorf("dst[%d] = %f, want %f", i, dst[i], tt.want[i])
				}
			}
		})
	}
}

func TestMixFrames_InPlace(t *testing.T) {
	t.Parallel()

	buf := []float32{1, 0, 0, 1, 0.5, 0.5}
	n := MixFrames(buf, buf, 2)
	if n != 3 || buf[0] != 0.5 || buf[1] != 0.5 || buf[2] != 0.5 {
		t.Errorf("in-place mix = %v (n=%d)", buf[:n], n)
	}
}

func TestMonoMixer(t *testing.T) {
	t.Parallel()

	src := audiotest.NewMockSource(8000, 2, 1000, func(_ int, ch int) float32 {
		if ch == 0 {
			return 0.8
		}
		return 0.2
	})
	mono := NewMonoMixer(src)
	if mono.Channels() != 1 {
		t.Fatalf("Channels() = %d, want 1", mono.Channels())
	}

	out, err := Collect(context.Background(), mono, 0, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(out) != 1000 {
		t.Fatalf("len = %d, want 1000", len(out))
	}
	for i, v := range out {
		if math.Abs(float64(v-0.5)) > 1e-6 {
			t.Fatalf("out[%d] = %f, want 0.5", i, v)
		}
	}
}

func TestResampler_DecimationKeepsPeaks(t *testing.T) {
	t.Parallel()

	// One spike every 100 frames at 48 kHz; decimating by 6 must keep all of them.
	src := audiotest.NewMockSource(48000, 1, 48000, func(i int, _ int) float32 {
		if i%100 == 0 {
			return -0.9
		}
		return 0.01
	})
	res := NewResampler(src, 8000)

	out, err := Collect(context.Background(), res, 0, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(out) != 8000 {
		t.Fatalf("len = %d, want 8000", len(out))
	}

	spikes := 0
	for _, v := range out {
		if v == -0.9 {
			spikes++
		}
	}
	if spikes != 480 {
		t.Errorf("spikes = %d, want 480", spikes)
	}
}

func TestResampler_Upsample(t *testing.T) {
	t.Parallel()

	src := audiotest.NewConstantSource(8000, 2, 800, 0.25)
	res := NewResampler(src, 16000)
	if res.SampleRate() != 16000 || res.Channels() != 2 {
		t.Fatalf("rate/channels = %d/%d", res.SampleRate(), res.Channels())
	}

	out, err := Collect(context.Background(), res, 0, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	frames := len(out) / 2
	if frames < 1590 || frames > 1600 {
		t.Errorf("frames = %d, want about 1600", frames)
	}
	for i, v := range out {
		if math.Abs(float64(v-0.25)) > 1e-5 {
			t.Fatalf("out[%d] = %f, want 0.25", i, v)
		}
	}
}

func TestResampler_Passthrough(t *testing.T) {
	t.Parallel()

	src := audiotest.NewConstantSource(44100, 1, 500, 0.5)
	out, err := Collect(context.Background(), NewResampler(src, 44100), 0, nil)
	if err != nil || len(out) != 500 {
		t.Fatalf("passthrough = (%d, %v), want (500, nil)", len(out), err)
	}
}

func TestResampler_InvalidDst(t *testing.T) {
	t.Parallel()

	res := NewResampler(audiotest.NewSilentSource(8000, 2, 10), 4000)
	if _, err := res.ReadSamples(make([]float32, 3)); !errors.Is(err, ErrInvalidDstSize) {
		t.Errorf("ReadSamples(odd) error = %v, want ErrInvalidDstSize", err)
	}
}

func TestCollect_Progress(t *testing.T) {
	t.Parallel()

	src := audiotest.NewSilentSource(8000, 1, 10000)
	calls, last := 0, 0
	out, err := Collect(context.Background(), src, 10000, func(read int) {
		calls++
		if read < last {
			t.Errorf("progress went backwards: %d < %d", read, last)
		}
		last = read
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(out) != 10000 || last != 10000 || calls < 2 {
		t.Errorf("len=%d last=%d calls=%d", len(out), last, calls)
	}
}

func TestCollect_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, audiotest.NewSilentSource(8000, 1, 10000), 0, nil)
	if !IsKind(err, KindCancelled) {
		t.Errorf("Collect() error = %v, want cancellation", err)
	}
}

func TestCollect_ReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	src := audiotest.NewConstantSource(8000, 2, 1000, 0.5).WithBufSize(100).FailAt(300, boom)
	out, err := Collect(context.Background(), src, 0, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Collect() error = %v, want %v", err, boom)
	}
	if len(out) != 600 {
		t.Errorf("Collect() kept %d samples before the failure, want 600", len(out))
	}
}

func TestMonoMixer_ClosesSource(t *testing.T) {
	t.Parallel()

	src := audiotest.NewSilentSource(8000, 2, 10)
	if err := NewResampler(NewMonoMixer(src), 4000).Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !src.Closed() {
		t.Error("Close did not reach the underlying source")
	}
}

func TestSourceErrors_CarryContext(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name string
		read func() error
		want string
	}{
		{
			name: "pcm read",
			read: func() error {
				r := io.MultiReader(bytes.NewReader([]byte{0, 1, 2, 3}), iotest.ErrReader(boom))
				_, err := NewPCMSource(r, SampleFormat{Bits: 16}, 8000, 1).ReadSamples(make([]float32, 8))
				return err
			},
			want: "reading pcm data",
		},
		{
			name: "resampler read",
			read: func() error {
				src := audiotest.NewConstantSource(8000, 1, 100, 0.5).WithBufSize(10).FailAt(20, boom)
				_, err := Collect(context.Background(), NewResampler(src, 4000), 0, nil)
				return err
			},
			want: "reading resampler source",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.read()
			if !errors.Is(err, boom) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q wrapping boom", err, tt.want)
			}
		})
	}
}

func BenchmarkMixFrames(b *testing.B) {
	src := make([]float32, 8192)
	dst := make([]float32, 4096)
	b.ReportAllocs()
	for b.Loop() {
		MixFrames(dst, src, 2)
	}
}
