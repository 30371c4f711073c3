// SPDX-License-Identifier: EPL-2.0

package protocol

import (
	"fmt"
	"math"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// Validate checks the required fields and value ranges of m. Failures are
// audio.KindMessageSerialization errors wrapping ErrInvalidMessage.
func Validate(m Message) error {
	if err := validate(m); err != nil {
		return audio.WrapError(audio.KindMessageSerialization, "protocol.validate", "",
			fmt.Errorf("%w: %s: %w", ErrInvalidMessage, typeName(m), err))
	}
	return nil
}

func typeName(m Message) string {
	if m == nil {
		return "nil"
	}
	return m.Type().String()
}

func validate(m Message) error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	h := m.MessageHeader()
	if h.ID == "" {
		return fmt.Errorf("missing id")
	}
	if h.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}

	switch v := m.(type) {
	case *ProcessingRequest:
		if v.FilePath == "" {
			return fmt.Errorf("missing filePath")
		}
		return v.Config.Validate()
	case *ProcessingResponse:
		if v.RequestID == "" {
			return fmt.Errorf("missing requestId")
		}
		if v.Data != nil && v.Error != nil {
			return fmt.Errorf("both data and error set")
		}
		if v.IsComplete && v.Data == nil && v.Error == nil {
			return fmt.Errorf("complete response without data or error")
		}
		if v.Error != nil {
			return validateFault(v.Error.Type, v.Error.Message)
		}
		if v.Data != nil {
			return validateData(v.Data)
		}
	case *ProgressUpdate:
		if v.RequestID == "" {
			return fmt.Errorf("missing requestId")
		}
		if math.IsNaN(v.Progress) || v.Progress < 0 || v.Progress > 1 {
			return fmt.Errorf("progress %v outside [0,1]", v.Progress)
		}
		return validateAmplitudes(v.Partial)
	case *ErrorMessage:
		return validateFault(v.ErrorType, v.Message)
	case *CancellationRequest:
		if v.RequestID == "" {
			return fmt.Errorf("missing requestId")
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return nil
}

func validateFault(kind audio.Kind, msg string) error {
	if kind == audio.KindUnknown || kind > audio.KindCancelled {
		return fmt.Errorf("unknown errorType %d", kind)
	}
	if msg == "" {
		return fmt.Errorf("missing errorMessage")
	}
	return nil
}

func validateData(d *waveform.Data) error {
	if d.Metadata.Resolution < 1 {
		return fmt.Errorf("resolution %d below 1", d.Metadata.Resolution)
	}
	if len(d.Amplitudes) != d.Metadata.Resolution {
		return fmt.Errorf("%d amplitudes for resolution %d", len(d.Amplitudes), d.Metadata.Resolution)
	}
	if d.DurationMs < 0 || d.SampleRate < 0 {
		return fmt.Errorf("negative duration or sample rate")
	}
	return validateAmplitudes(d.Amplitudes)
}

func validateAmplitudes(a []float64) error {
	for i, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("amplitude %d is %v", i, v)
		}
	}
	return nil
}
