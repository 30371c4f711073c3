// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"context"
	"fmt"
	"io"
)

// ProgressFunc receives the number of samples read so far.
type ProgressFunc func(read int)

// Collect drains src into one interleaved slice. sizeHint pre-sizes the
// result when the caller knows roughly how many samples to expect. ctx is
// checked between reads.
func Collect(ctx context.Context, src Source, sizeHint int, progress ProgressFunc) ([]float32, error) {
	bufSize := src.BufSize()
	if bufSize <= 0 {
		bufSize = 4096
	}
	if ch := src.Channels(); ch > 1 {
		bufSize -= bufSize % ch
		if bufSize == 0 {
			bufSize = ch
		}
	}

	out := make([]float32, 0, max(sizeHint, 0))
	buf := make([]float32, bufSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := src.ReadSamples(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			if progress != nil {
				progress(len(out))
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("collect: %w", err)
		}
		if n == 0 {
			// A source that returns nothing without EOF is treated as finished.
			return out, nil
		}
	}
}
