// SPDX-License-Identifier: EPL-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// envelope is the JSON form of every message:
//
//	{"type": "progressUpdate", "id": "...", "ts": 1700000000000000000, "payload": {...}}
//
// ts is unix nanoseconds.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type requestJSON struct {
	FilePath      string          `json:"filePath"`
	Config        waveform.Config `json:"config"`
	StreamResults bool            `json:"streamResults"`
}

type faultJSON struct {
	Type    string `json:"errorType"`
	Message string `json:"errorMessage"`
}

type responseJSON struct {
	RequestID  string         `json:"requestId"`
	Data       *waveform.Data `json:"waveformData,omitempty"`
	Error      *faultJSON     `json:"error,omitempty"`
	IsComplete bool           `json:"isComplete"`
}

type progressJSON struct {
	RequestID string    `json:"requestId"`
	Progress  float64   `json:"progress"`
	Status    string    `json:"statusMessage,omitempty"`
	Partial   []float64 `json:"partialData,omitempty"`
}

type errorJSON struct {
	RequestID  string `json:"requestId,omitempty"`
	ErrorType  string `json:"errorType"`
	Message    string `json:"errorMessage"`
	StackTrace string `json:"stackTrace,omitempty"`
}

type cancelJSON struct {
	RequestID string `json:"requestId"`
}

func toEnvelope(m Message) (envelope, error) {
	var payload any
	switch v := m.(type) {
	case *ProcessingRequest:
		payload = requestJSON{FilePath: v.FilePath, Config: v.Config, StreamResults: v.StreamResults}
	case *ProcessingResponse:
		r := responseJSON{RequestID: v.RequestID, Data: v.Data, IsComplete: v.IsComplete}
		if v.Error != nil {
			r.Error = &faultJSON{Type: v.Error.Type.String(), Message: v.Error.Message}
		}
		payload = r
	case *ProgressUpdate:
		payload = progressJSON{RequestID: v.RequestID, Progress: v.Progress, Status: v.Status, Partial: v.Partial}
	case *ErrorMessage:
		payload = errorJSON{RequestID: v.RequestID, ErrorType: v.ErrorType.String(), Message: v.Message, StackTrace: v.StackTrace}
	case *CancellationRequest:
		payload = cancelJSON{RequestID: v.RequestID}
	default:
		return envelope{}, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	h := m.MessageHeader()
	return envelope{Type: m.Type().String(), ID: h.ID, TS: h.Timestamp.UnixNano(), Payload: raw}, nil
}

func fromEnvelope(e envelope) (Message, error) {
	t, ok := parseType(e.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	h := Header{ID: e.ID}
	if e.TS != 0 {
		h.Timestamp = time.Unix(0, e.TS).UTC()
	}

	switch t {
	case TypeProcessingRequest:
		var p requestJSON
		if err := strictUnmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &ProcessingRequest{Header: h, FilePath: p.FilePath, Config: p.Config, StreamResults: p.StreamResults}, nil
	case TypeProcessingResponse:
		var p responseJSON
		if err := strictUnmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		m := &ProcessingResponse{Header: h, RequestID: p.RequestID, Data: p.Data, IsComplete: p.IsComplete}
		if p.Error != nil {
			m.Error = &Fault{Type: audio.ParseKind(p.Error.Type), Message: p.Error.Message}
		}
		return m, nil
	case TypeProgressUpdate:
		var p progressJSON
		if err := strictUnmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &ProgressUpdate{Header: h, RequestID: p.RequestID, Progress: p.Progress, Status: p.Status, Partial: p.Partial}, nil
	case TypeErrorMessage:
		var p errorJSON
		if err := strictUnmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &ErrorMessage{Header: h, RequestID: p.RequestID, ErrorType: audio.ParseKind(p.ErrorType),
			Message: p.Message, StackTrace: p.StackTrace}, nil
	default:
		var p cancelJSON
		if err := strictUnmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return &CancellationRequest{Header: h, RequestID: p.RequestID}, nil
	}
}

// strictUnmarshal decodes exactly one JSON value with no unknown fields.
func strictUnmarshal(b []byte, v any) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: missing payload", ErrTruncated)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %w", ErrTruncated, err)
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return nil
}
