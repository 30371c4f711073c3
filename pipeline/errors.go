// SPDX-License-Identifier: EPL-2.0

package pipeline

import "errors"

var (
	// ErrNotInitialized indicates an operation that needs an open file
	ErrNotInitialized = errors.New("pipeline not initialized")

	// ErrAlreadyInitialized indicates Initialize called twice
	ErrAlreadyInitialized = errors.New("pipeline already initialized")

	// ErrDisposed indicates use after Dispose
	ErrDisposed = errors.New("pipeline disposed")

	// ErrEmptyFile indicates a zero-length input file
	ErrEmptyFile = errors.New("empty file")

	// ErrNoAudioData indicates a container without any audio payload
	ErrNoAudioData = errors.New("no audio data")
)
