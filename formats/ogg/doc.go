// SPDX-License-Identifier: EPL-2.0

// Package ogg reads the Ogg container: CRC-checked pages, packet assembly
// across page boundaries and granule-position indexing.
//
// Granule positions give both the exact duration of a stream (LastGranule
// reads the final page) and exact seeking: Bisect binary-searches page
// granules for the page that precedes a target sample.
package ogg
