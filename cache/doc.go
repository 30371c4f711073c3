// SPDX-License-Identifier: EPL-2.0

// Package cache holds generated waveforms keyed by a fingerprint of the
// source file and the request configuration.
//
// A Cache is bounded by an estimated byte size rather than an entry count.
// It is not safe for concurrent use: the pool coordinator is its only
// owner, so workers never touch it.
package cache
