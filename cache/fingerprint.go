// SPDX-License-Identifier: EPL-2.0

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// Fingerprint identifies a (file, config) pair: 16 lowercase hex digits.
type Fingerprint string

// Compute fingerprints path and cfg. The path is made absolute with
// symlinks resolved, and the file's size and modification time are mixed
// in, so an edited file gets a new fingerprint. A missing or unreadable
// file is a FileAccess error.
func Compute(path string, cfg waveform.Config) (Fingerprint, error) {
	const op = "cache.fingerprint"

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", audio.WrapError(audio.KindFileAccess, op, path, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", audio.WrapError(audio.KindFileAccess, op, path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", audio.WrapError(audio.KindFileAccess, op, path, err)
	}
	if st.IsDir() {
		return "", audio.WrapError(audio.KindFileAccess, op, path, fmt.Errorf("%s is a directory", path))
	}
	return Of(abs, st.Size(), st.ModTime().UnixNano(), cfg), nil
}

// Of fingerprints already resolved file identity fields.
func Of(canonicalPath string, size, modTimeNanos int64, cfg waveform.Config) Fingerprint {
	d := xxhash.New()
	_, _ = d.WriteString(canonicalPath)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(size, 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(modTimeNanos, 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(cfg.Canonical())
	return Fingerprint(fmt.Sprintf("%016x", d.Sum64()))
}
