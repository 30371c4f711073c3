// SPDX-License-Identifier: EPL-2.0

// Package waveform turns PCM samples into a fixed-length amplitude summary
// for visualisation.
//
// Generation runs four stages in order: bucket downsampling with one of the
// rms, peak, average or median reductions, optional moving-average
// smoothing, optional peak or rms normalisation, and a scaling curve.
// Generate works on a complete sample slice; Accumulator consumes a stream
// chunk by chunk in bounded memory and can produce partial results at any
// point.
package waveform
