// SPDX-License-Identifier: EPL-2.0

// Package pool runs waveform generation on a bounded set of worker units.
//
// A single coordinator goroutine owns the task queue, the worker table,
// the in-flight requests and the result cache; every exported method posts
// to it, so none of that state is locked. Worker units share nothing with
// the coordinator or with each other: requests and results cross between
// them only as encoded protocol messages.
//
// Admission is bounded by MaxConcurrentOperations. Submissions beyond it
// wait in FIFO order and can be cancelled while waiting. Requests for a
// fingerprint already being decoded attach to that decode instead of
// starting another.
package pool
