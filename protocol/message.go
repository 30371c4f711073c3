// SPDX-License-Identifier: EPL-2.0

package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// Type tags a message variant on the wire.
type Type uint8

const (
	TypeProcessingRequest Type = iota + 1
	TypeProcessingResponse
	TypeProgressUpdate
	TypeErrorMessage
	TypeCancellationRequest
)

var typeNames = map[Type]string{
	TypeProcessingRequest:   "processingRequest",
	TypeProcessingResponse:  "processingResponse",
	TypeProgressUpdate:      "progressUpdate",
	TypeErrorMessage:        "errorMessage",
	TypeCancellationRequest: "cancellationRequest",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func parseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Header is carried by every message.
type Header struct {
	ID        string
	Timestamp time.Time
}

// NewHeader returns a header with a fresh id, stamped now.
func NewHeader() Header {
	return Header{ID: uuid.NewString(), Timestamp: time.Now().UTC().Round(0)}
}

// Normalize puts m in the canonical form both encodings reproduce:
// timestamps in UTC without a monotonic reading, and empty amplitude
// arrays as nil. Encode calls it on every message it writes.
func Normalize(m Message) {
	switch v := m.(type) {
	case *ProcessingRequest:
		v.Header.normalize()
	case *ProcessingResponse:
		v.Header.normalize()
		if v.Data != nil {
			v.Data.Metadata.GeneratedAt = canonicalTime(v.Data.Metadata.GeneratedAt)
		}
	case *ProgressUpdate:
		v.Header.normalize()
		if len(v.Partial) == 0 {
			v.Partial = nil
		}
	case *ErrorMessage:
		v.Header.normalize()
	case *CancellationRequest:
		v.Header.normalize()
	}
}

func (h *Header) normalize() { h.Timestamp = canonicalTime(h.Timestamp) }

func canonicalTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(0)
}

// Message is one of the five variants below.
type Message interface {
	Type() Type
	MessageHeader() Header
}

// ProcessingRequest asks a worker to generate a waveform for FilePath.
type ProcessingRequest struct {
	Header
	FilePath      string
	Config        waveform.Config
	StreamResults bool
}

// ProcessingResponse carries the final result of a request. Exactly one of
// Data and Error is set when IsComplete is true; a response that is not
// complete carries an intermediate result.
type ProcessingResponse struct {
	Header
	RequestID  string
	Data       *waveform.Data
	Error      *Fault
	IsComplete bool
}

// ProgressUpdate reports how far a request has got. Partial, when present,
// is a provisional amplitude array.
type ProgressUpdate struct {
	Header
	RequestID string
	Progress  float64
	Status    string
	Partial   []float64
}

// ErrorMessage reports a failure. RequestID is empty for failures not tied
// to a request.
type ErrorMessage struct {
	Header
	RequestID  string
	ErrorType  audio.Kind
	Message    string
	StackTrace string
}

// CancellationRequest asks the worker running RequestID to stop.
type CancellationRequest struct {
	Header
	RequestID string
}

// Fault is a failure summary embedded in a ProcessingResponse.
type Fault struct {
	Type    audio.Kind
	Message string
}

func (*ProcessingRequest) Type() Type   { return TypeProcessingRequest }
func (*ProcessingResponse) Type() Type  { return TypeProcessingResponse }
func (*ProgressUpdate) Type() Type      { return TypeProgressUpdate }
func (*ErrorMessage) Type() Type        { return TypeErrorMessage }
func (*CancellationRequest) Type() Type { return TypeCancellationRequest }

func (m *ProcessingRequest) MessageHeader() Header   { return m.Header }
func (m *ProcessingResponse) MessageHeader() Header  { return m.Header }
func (m *ProgressUpdate) MessageHeader() Header      { return m.Header }
func (m *ErrorMessage) MessageHeader() Header        { return m.Header }
func (m *CancellationRequest) MessageHeader() Header { return m.Header }

// RequestIDOf returns the request a message correlates to. For a
// ProcessingRequest that is its own id.
func RequestIDOf(m Message) string {
	switch v := m.(type) {
	case *ProcessingRequest:
		return v.ID
	case *ProcessingResponse:
		return v.RequestID
	case *ProgressUpdate:
		return v.RequestID
	case *ErrorMessage:
		return v.RequestID
	case *CancellationRequest:
		return v.RequestID
	}
	return ""
}

// NewErrorMessage describes err for the request requestID. The kind is
// taken from err; errors without one are reported as decoding failures.
func NewErrorMessage(requestID string, err error, stack string) *ErrorMessage {
	kind := audio.KindOf(err)
	if kind == audio.KindUnknown {
		kind = audio.KindDecoding
	}
	return &ErrorMessage{
		Header:     NewHeader(),
		RequestID:  requestID,
		ErrorType:  kind,
		Message:    strings.TrimPrefix(err.Error(), kind.String()+": "),
		StackTrace: stack,
	}
}

// Err rebuilds the reported failure as an *audio.Error of the same kind.
func (m *ErrorMessage) Err() error {
	return &audio.Error{Kind: m.ErrorType, Op: "worker", Msg: m.Message}
}

// Err rebuilds the fault as an *audio.Error of the same kind.
func (f *Fault) Err() error {
	if f == nil {
		return nil
	}
	return &audio.Error{Kind: f.Type, Op: "worker", Msg: f.Message}
}

// newMessage returns an empty message of type t.
func newMessage(t Type) (Message, error) {
	switch t {
	case TypeProcessingRequest:
		return &ProcessingRequest{}, nil
	case TypeProcessingResponse:
		return &ProcessingResponse{}, nil
	case TypeProgressUpdate:
		return &ProgressUpdate{}, nil
	case TypeErrorMessage:
		return &ErrorMessage{}, nil
	case TypeCancellationRequest:
		return &CancellationRequest{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
}
