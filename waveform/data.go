// SPDX-License-Identifier: EPL-2.0

package waveform

import "time"

// entryOverhead approximates the fixed cost of a Data value: the struct,
// metadata strings and cache bookkeeping.
const entryOverhead = 256

// Metadata describes how a Data value was produced.
type Metadata struct {
	Resolution  int       `json:"resolution"`
	Type        Type      `json:"type"`
	Normalized  bool      `json:"normalized"`
	GeneratedAt time.Time `json:"generatedAt"`
	Algorithm   Algorithm `json:"algorithm,omitempty"`
	Format      string    `json:"format,omitempty"`
}

// Data is a generated waveform. Once returned it is never modified, so one
// value may be shared by any number of readers.
type Data struct {
	Amplitudes []float64 `json:"amplitudes"`
	DurationMs int64     `json:"durationMs"`
	SampleRate int       `json:"sampleRate"`
	Metadata   Metadata  `json:"metadata"`
}

// Duration is DurationMs as a time.Duration.
func (d *Data) Duration() time.Duration {
	return time.Duration(d.DurationMs) * time.Millisecond
}

// SizeBytes estimates the memory held by d.
func (d *Data) SizeBytes() int64 {
	return int64(8*len(d.Amplitudes)) + entryOverhead
}

// Equal reports whether d and o carry the same values.
func (d *Data) Equal(o *Data) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.DurationMs != o.DurationMs || d.SampleRate != o.SampleRate ||
		len(d.Amplitudes) != len(o.Amplitudes) ||
		d.Metadata.Resolution != o.Metadata.Resolution ||
		d.Metadata.Type != o.Metadata.Type ||
		d.Metadata.Normalized != o.Metadata.Normalized ||
		d.Metadata.Algorithm != o.Metadata.Algorithm ||
		d.Metadata.Format != o.Metadata.Format ||
		!d.Metadata.GeneratedAt.Equal(o.Metadata.GeneratedAt) {
		return false
	}
	for i, v := range d.Amplitudes {
		if v != o.Amplitudes[i] {
			return false
		}
	}
	return true
}

func durationMs(frames int64, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return frames * 1000 / int64(sampleRate)
}
