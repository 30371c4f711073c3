// SPDX-License-Identifier: EPL-2.0

package pool

import "errors"

var (
	// ErrDisposed indicates a call on a disposed Pool
	ErrDisposed = errors.New("pool disposed")

	// ErrLivenessTimeout indicates a busy worker stopped reporting
	ErrLivenessTimeout = errors.New("worker missed its liveness deadline")

	// ErrWorkerPanic indicates a worker recovered from a panic
	ErrWorkerPanic = errors.New("worker panicked")

	// ErrWorkerUnreachable indicates a worker's mailbox was full or closed
	ErrWorkerUnreachable = errors.New("worker unreachable")

	// ErrNoAudio indicates a file decoded to zero frames
	ErrNoAudio = errors.New("no audio decoded")
)
