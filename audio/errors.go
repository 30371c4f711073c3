// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDstSize = errors.New("dst size must be multiple of channels")
)

// Kind classifies every failure the engine can report to a caller.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFileAccess
	KindUnsupportedFormat
	KindDecoding
	KindConfiguration
	KindMessageSerialization
	KindCrashDetected
	KindCancelled
)

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrFileAccess           = errors.New("file access error")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrDecoding             = errors.New("decoding error")
	ErrConfiguration        = errors.New("configuration error")
	ErrMessageSerialization = errors.New("message serialization error")
	ErrCrashDetected        = errors.New("worker crash detected")
	ErrCancelled            = errors.New("cancelled")
)

var kindNames = map[Kind]string{
	KindUnknown:              "UnknownException",
	KindFileAccess:           "FileAccessException",
	KindUnsupportedFormat:    "UnsupportedFormatException",
	KindDecoding:             "DecodingException",
	KindConfiguration:        "ConfigurationException",
	KindMessageSerialization: "MessageSerializationException",
	KindCrashDetected:        "CrashDetected",
	KindCancelled:            "CancelledException",
}

var kindSentinels = map[Kind]error{
	KindFileAccess:           ErrFileAccess,
	KindUnsupportedFormat:    ErrUnsupportedFormat,
	KindDecoding:             ErrDecoding,
	KindConfiguration:        ErrConfiguration,
	KindMessageSerialization: ErrMessageSerialization,
	KindCrashDetected:        ErrCrashDetected,
	KindCancelled:            ErrCancelled,
}

// String returns the stable wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// ParseKind maps a wire name back to its Kind. Unrecognised names yield
// KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k
		}
	}
	return KindUnknown
}

// Error is the structured error type carried through the engine.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "pipeline.initialize"
	Path string // file involved, if any
	Msg  string
	Err  error
}

// NewError builds an *Error with a formatted message.
func NewError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps err into an *Error of the given kind. A nil err returns nil.
func WrapError(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf extracts the Kind of err. Context cancellation maps to KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	if isContextCancel(err) {
		return KindCancelled
	}
	return KindUnknown
}

// IsKind is shorthand for KindOf(err) == kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func isContextCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
