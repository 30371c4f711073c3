// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"fmt"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/formats/flac"
	"github.com/ik5/audwave/formats/mp3"
	"github.com/ik5/audwave/formats/opus"
	"github.com/ik5/audwave/formats/vorbis"
)

// UnitDecoder decodes batches of whole format units: MP3 or FLAC frames,
// Vorbis or Opus packets, or PCM sample runs. Output is interleaved.
type UnitDecoder interface {
	Decode(units [][]byte) ([]float32, error)
	SampleRate() int
	Channels() int
	// Reset drops inter-unit state after a seek.
	Reset()
	Close() error
}

// UnitParams carries what a unit decoder needs from the container.
type UnitParams struct {
	SampleRate int
	Channels   int
	// PCM is the sample layout of PCM formats.
	PCM audio.SampleFormat
	// Header is the FLAC STREAMINFO body or the OpusHead packet.
	Header []byte
	// Headers are the three Vorbis header packets.
	Headers [][]byte
}

// NewUnitDecoder creates the chunk-level decoder for format.
func (l *Library) NewUnitDecoder(format audio.Format, p UnitParams) (UnitDecoder, error) {
	const op = "codec.initChunkedDecoder"

	l.mu.Lock()
	acquired, opusErr := l.refs > 0, l.opusErr
	l.mu.Unlock()
	if !acquired {
		return nil, Wrap(op, "", ErrNotAcquired)
	}

	switch format {
	case audio.FormatWAV, audio.FormatAIFF, audio.FormatMP4:
		if !p.PCM.Valid() || p.Channels <= 0 {
			return nil, Wrap(op, "", fmt.Errorf("%w: PCM layout %+v", ErrUnknownFormat, p.PCM))
		}
		return &pcmUnits{format: p.PCM, rate: p.SampleRate, channels: p.Channels}, nil

	case audio.FormatMP3:
		return &mp3Units{FrameDecoder: mp3.NewFrameDecoder(), rate: p.SampleRate}, nil

	case audio.FormatFLAC:
		if len(p.Header) != 34 {
			return nil, Wrap(op, "", flac.ErrNoStreamInfo)
		}
		md := &flac.Metadata{Info: flac.ParseStreamInfo(p.Header), InfoBlock: p.Header}
		return &flacUnits{FrameDecoder: flac.NewFrameDecoder(md)}, nil

	case audio.FormatOggVorbis:
		d, err := vorbis.NewPacketDecoder(p.Headers)
		if err != nil {
			return nil, Wrap(op, "", err)
		}
		return d, nil

	case audio.FormatOpus:
		if opusErr != nil {
			return nil, Wrap(op, "", opusErr)
		}
		h, err := opus.ParseHead(p.Header)
		if err != nil {
			return nil, Wrap(op, "", err)
		}
		d, err := opus.NewPacketDecoder(h)
		if err != nil {
			return nil, Wrap(op, "", err)
		}
		return d, nil
	}
	return nil, Wrap(op, "", fmt.Errorf("%w: %s", ErrUnknownFormat, format))
}

type pcmUnits struct {
	format   audio.SampleFormat
	rate     int
	channels int
}

func (u *pcmUnits) SampleRate() int { return u.rate }
func (u *pcmUnits) Channels() int   { return u.channels }
func (u *pcmUnits) Reset()          {}
func (u *pcmUnits) Close() error    { return nil }

func (u *pcmUnits) Decode(units [][]byte) ([]float32, error) {
	size := 0
	for _, b := range units {
		size += len(b)
	}
	out := make([]float32, size/u.format.BytesPerSample())
	n := 0
	for _, b := range units {
		n += audio.DecodePCM(out[n:], b, u.format)
	}
	return out[:n-n%u.channels], nil
}

type mp3Units struct {
	*mp3.FrameDecoder
	rate int
}

func (u *mp3Units) SampleRate() int { return u.rate }
func (u *mp3Units) Close() error    { return nil }

type flacUnits struct {
	*flac.FrameDecoder
}

func (u *flacUnits) Close() error { return nil }

const (
	minChunk     = 64 << 10
	maxChunk     = 10 << 20
	smallFileMax = 32 << 20
	largeFileMin = 512 << 20
)

// fractions of the file size per chunk for small files.
var chunkFractions = map[audio.Format]float64{
	audio.FormatWAV:       0.02,
	audio.FormatAIFF:      0.02,
	audio.FormatMP3:       0.01,
	audio.FormatFLAC:      0.0125,
	audio.FormatOggVorbis: 0.0083,
	audio.FormatOpus:      0.0067,
	audio.FormatMP4:       0.01,
}

func uncompressed(f audio.Format) bool {
	return f == audio.FormatWAV || f == audio.FormatAIFF
}

// OptimalChunkSize returns the chunk size for reading a file of size bytes.
// Small files read a format-tuned fraction per chunk, medium and large files
// a fixed size; the result always lies in [64 KiB, 10 MiB].
func OptimalChunkSize(format audio.Format, size int64) int64 {
	var n int64
	switch {
	case size < smallFileMax:
		frac, ok := chunkFractions[format]
		if !ok {
			frac = 0.01
		}
		n = int64(float64(size) * frac)
	case size <= largeFileMin:
		n = 2 << 20
		if uncompressed(format) {
			n = 4 << 20
		}
	default:
		n = 4 << 20
		if uncompressed(format) {
			n = 8 << 20
		}
	}
	return min(max(n, minChunk), maxChunk)
}
