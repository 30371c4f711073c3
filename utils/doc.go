// SPDX-License-Identifier: EPL-2.0

// Package utils holds small per-sample helpers shared by the decoders and
// the analysis resampler. None of them allocate.
package utils
