// SPDX-License-Identifier: EPL-2.0

package waveform

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ik5/audwave/audio"
)

// Type is the visual style the amplitudes are meant for. It does not change
// the numbers, only the metadata.
type Type string

const (
	TypeBars   Type = "bars"
	TypeLine   Type = "line"
	TypeFilled Type = "filled"
)

// Algorithm reduces the samples of one bucket to a single amplitude.
type Algorithm string

const (
	AlgorithmRMS     Algorithm = "rms"
	AlgorithmPeak    Algorithm = "peak"
	AlgorithmAverage Algorithm = "average"
	AlgorithmMedian  Algorithm = "median"
)

// Normalization selects how amplitudes are rescaled when Normalize is set.
type Normalization string

const (
	NormalizePeak Normalization = "peak"
	NormalizeRMS  Normalization = "rms"
)

// Curve is the final scaling curve.
type Curve string

const (
	CurveLinear Curve = "linear"
	CurveLog    Curve = "log"
	CurveExp    Curve = "exp"
	CurveSqrt   Curve = "sqrt"
)

// Config describes one waveform request. It is a value type; copies are
// independent.
type Config struct {
	Resolution          int           `yaml:"resolution" json:"resolution"`
	Type                Type          `yaml:"type" json:"type"`
	Normalize           bool          `yaml:"normalize" json:"normalize"`
	Algorithm           Algorithm     `yaml:"algorithm" json:"algorithm"`
	NormalizationMethod Normalization `yaml:"normalization_method" json:"normalizationMethod"`
	ScalingCurve        Curve         `yaml:"scaling_curve" json:"scalingCurve"`
	ScalingFactor       float64       `yaml:"scaling_factor" json:"scalingFactor"`
	Smoothing           bool          `yaml:"smoothing" json:"smoothing"`
	SmoothingWindow     int           `yaml:"smoothing_window" json:"smoothingWindow"`
}

// DefaultConfig returns 1000 normalised rms bars on a linear scale.
func DefaultConfig() Config {
	return Config{
		Resolution:          1000,
		Type:                TypeBars,
		Normalize:           true,
		Algorithm:           AlgorithmRMS,
		NormalizationMethod: NormalizePeak,
		ScalingCurve:        CurveLinear,
		ScalingFactor:       1,
		SmoothingWindow:     3,
	}
}

// Validate reports the first illegal field as a configuration error.
func (c Config) Validate() error {
	const op = "waveform.validate"

	switch {
	case c.Resolution < 1:
		return audio.NewError(audio.KindConfiguration, op, "resolution must be at least 1, got %d", c.Resolution)
	case !validType(c.Type):
		return audio.NewError(audio.KindConfiguration, op, "unknown waveform type %q", c.Type)
	case !validAlgorithm(c.Algorithm):
		return audio.NewError(audio.KindConfiguration, op, "unknown algorithm %q", c.Algorithm)
	case c.NormalizationMethod != NormalizePeak && c.NormalizationMethod != NormalizeRMS:
		return audio.NewError(audio.KindConfiguration, op, "unknown normalization method %q", c.NormalizationMethod)
	case !validCurve(c.ScalingCurve):
		return audio.NewError(audio.KindConfiguration, op, "unknown scaling curve %q", c.ScalingCurve)
	case c.ScalingFactor < 0 || math.IsNaN(c.ScalingFactor) || math.IsInf(c.ScalingFactor, 0):
		return audio.NewError(audio.KindConfiguration, op, "scaling factor must be finite and non-negative, got %g", c.ScalingFactor)
	case c.SmoothingWindow < 3 || c.SmoothingWindow%2 == 0:
		return audio.NewError(audio.KindConfiguration, op, "smoothing window must be odd and at least 3, got %d", c.SmoothingWindow)
	}
	return nil
}

// Canonical is a stable textual form of c used in fingerprints. Two configs
// produce the same string exactly when they request the same output.
func (c Config) Canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolution=%d;type=%s;normalize=%t;algorithm=%s;normalization=%s;curve=%s;factor=%s;smoothing=%t",
		c.Resolution, c.Type, c.Normalize, c.Algorithm, c.NormalizationMethod, c.ScalingCurve,
		strconv.FormatFloat(c.ScalingFactor, 'g', -1, 64), c.Smoothing)
	if c.Smoothing {
		fmt.Fprintf(&b, ";window=%d", c.SmoothingWindow)
	}
	return b.String()
}

func validType(t Type) bool {
	return t == TypeBars || t == TypeLine || t == TypeFilled
}

func validAlgorithm(a Algorithm) bool {
	switch a {
	case AlgorithmRMS, AlgorithmPeak, AlgorithmAverage, AlgorithmMedian:
		return true
	}
	return false
}

func validCurve(c Curve) bool {
	switch c {
	case CurveLinear, CurveLog, CurveExp, CurveSqrt:
		return true
	}
	return false
}
