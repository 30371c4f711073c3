// SPDX-License-Identifier: EPL-2.0

package utils

// CubicInterpolate evaluates the Catmull-Rom segment between y1 and y2 at
// x in [0,1]; y0 and y3 are the neighbouring samples.
func CubicInterpolate(y0, y1, y2, y3, x float32) float32 {
	c1 := 0.5 * (y2 - y0)
	c2 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	c3 := 0.5*(y3-y0) + 1.5*(y1-y2)

	return ((c3*x+c2)*x+c1)*x + y1
}

// Abs32 is math.Abs for float32 samples.
func Abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// HoldPeak keeps, per channel, the sample of frame with the larger
// magnitude in peak. The sign of the winning sample is preserved.
func HoldPeak(peak, frame []float32) {
	for c, v := range frame[:min(len(frame), len(peak))] {
		if Abs32(v) > Abs32(peak[c]) {
			peak[c] = v
		}
	}
}
