// SPDX-License-Identifier: EPL-2.0

package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ik5/audwave/audio"
)

// Encoding selects a wire form.
type Encoding uint8

const (
	Binary Encoding = iota + 1
	JSON
)

func (e Encoding) String() string {
	switch e {
	case Binary:
		return "binary"
	case JSON:
		return "json"
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

// DefaultCompressThreshold is the body size from which WithCompression(0)
// compresses binary frames.
const DefaultCompressThreshold = 16 << 10

// Codec encodes and decodes messages. A Codec is safe for concurrent use.
type Codec struct {
	compressAt int
}

// Option configures a Codec.
type Option func(*Codec)

// WithCompression zstd-compresses binary bodies of at least threshold
// bytes. A threshold <= 0 selects DefaultCompressThreshold.
func WithCompression(threshold int) Option {
	return func(c *Codec) {
		if threshold <= 0 {
			threshold = DefaultCompressThreshold
		}
		c.compressAt = threshold
	}
}

// NewCodec returns a Codec. Without options binary frames are not
// compressed.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PreferredEncoding is Binary for messages carrying amplitude arrays and
// JSON for the rest.
func PreferredEncoding(m Message) Encoding {
	switch v := m.(type) {
	case *ProcessingResponse:
		if v.Data != nil {
			return Binary
		}
	case *ProgressUpdate:
		if len(v.Partial) > 0 {
			return Binary
		}
	}
	return JSON
}

func fail(op string, err error) error {
	if audio.IsKind(err, audio.KindMessageSerialization) {
		return err
	}
	return audio.WrapError(audio.KindMessageSerialization, op, "", err)
}

// Marshal validates m and encodes it in its preferred encoding.
func (c *Codec) Marshal(m Message) ([]byte, error) {
	return c.Encode(m, PreferredEncoding(m))
}

// Encode normalizes and validates m, then encodes it as enc.
func (c *Codec) Encode(m Message, enc Encoding) ([]byte, error) {
	const op = "protocol.encode"

	Normalize(m)
	if err := Validate(m); err != nil {
		return nil, err
	}
	b, err := c.appendMessage(nil, m, enc)
	if err != nil {
		return nil, fail(op, err)
	}
	return b, nil
}

func (c *Codec) appendMessage(dst []byte, m Message, enc Encoding) ([]byte, error) {
	switch enc {
	case Binary:
		return appendFrame(dst, m, c.compressAt)
	case JSON:
		e, err := toEnvelope(m)
		if err != nil {
			return dst, err
		}
		b, err := json.Marshal(e)
		if err != nil {
			return dst, err
		}
		return append(dst, b...), nil
	}
	return dst, fmt.Errorf("unknown encoding %d", uint8(enc))
}

// Sniff reports the encoding of b and whether it holds a batch.
func Sniff(b []byte) (Encoding, bool, error) {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	switch {
	case i == len(b):
		return 0, false, ErrTruncated
	case len(b) >= 2 && b[0] == magicFrame[0] && b[1] == magicFrame[1]:
		return Binary, false, nil
	case len(b) >= 2 && b[0] == magicBatch[0] && b[1] == magicBatch[1]:
		return Binary, true, nil
	case b[i] == '{':
		return JSON, false, nil
	case b[i] == '[':
		return JSON, true, nil
	}
	return 0, false, ErrBadMagic
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Decode decodes and validates one message in either encoding.
func (c *Codec) Decode(b []byte) (Message, error) {
	const op = "protocol.decode"

	enc, batch, err := Sniff(b)
	if err != nil {
		return nil, fail(op, err)
	}
	if batch {
		return nil, fail(op, ErrIsBatch)
	}

	var m Message
	switch enc {
	case Binary:
		var n int
		if m, n, err = readFrame(b); err == nil && n != len(b) {
			err = fmt.Errorf("%w: %d bytes", ErrTrailingData, len(b)-n)
		}
	default:
		var e envelope
		if err = strictUnmarshal(b, &e); err == nil {
			m, err = fromEnvelope(e)
		}
	}
	if err != nil {
		return nil, fail(op, err)
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeBatch encodes ms, in order, as one unit. An empty batch is valid.
//
// The binary batch is "AB", the version, a uint32 message count and then
// every frame prefixed with its uint32 length. The JSON batch is an array
// of envelopes.
func (c *Codec) EncodeBatch(ms []Message, enc Encoding) ([]byte, error) {
	const op = "protocol.encodeBatch"

	for _, m := range ms {
		Normalize(m)
		if err := Validate(m); err != nil {
			return nil, err
		}
	}

	switch enc {
	case Binary:
		out := []byte{magicBatch[0], magicBatch[1], Version}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(ms)))
		for _, m := range ms {
			at := len(out)
			out = append(out, 0, 0, 0, 0)
			var err error
			if out, err = appendFrame(out, m, c.compressAt); err != nil {
				return nil, fail(op, err)
			}
			binary.LittleEndian.PutUint32(out[at:], uint32(len(out)-at-4))
		}
		return out, nil
	case JSON:
		envs := make([]envelope, 0, len(ms))
		for _, m := range ms {
			e, err := toEnvelope(m)
			if err != nil {
				return nil, fail(op, err)
			}
			envs = append(envs, e)
		}
		b, err := json.Marshal(envs)
		if err != nil {
			return nil, fail(op, err)
		}
		return b, nil
	}
	return nil, fail(op, fmt.Errorf("unknown encoding %d", uint8(enc)))
}

// DecodeBatch decodes a batch produced by EncodeBatch, preserving order.
// Every message is validated; the first failure rejects the whole batch.
func (c *Codec) DecodeBatch(b []byte) ([]Message, error) {
	const op = "protocol.decodeBatch"

	enc, batch, err := Sniff(b)
	if err != nil {
		return nil, fail(op, err)
	}
	if !batch {
		return nil, fail(op, ErrNotBatch)
	}

	var ms []Message
	if enc == Binary {
		ms, err = readBatch(b)
	} else {
		var envs []envelope
		if err = strictUnmarshal(b, &envs); err == nil {
			ms = make([]Message, 0, len(envs))
			for _, e := range envs {
				m, err := fromEnvelope(e)
				if err != nil {
					return nil, fail(op, err)
				}
				ms = append(ms, m)
			}
		}
	}
	if err != nil {
		return nil, fail(op, err)
	}
	for i, m := range ms {
		if err := Validate(m); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return ms, nil
}

func readBatch(b []byte) ([]Message, error) {
	const head = 7
	if len(b) < head {
		return nil, ErrTruncated
	}
	if b[2] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[2])
	}
	count := binary.LittleEndian.Uint32(b[3:])
	rest := b[head:]
	// Every entry needs at least a length prefix and a frame header.
	if uint64(count)*(4+frameHeaderSize) > uint64(len(rest)) {
		return nil, ErrTruncated
	}

	ms := make([]Message, 0, count)
	for range count {
		if len(rest) < 4 {
			return nil, ErrTruncated
		}
		n := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(n) > uint64(len(rest)) {
			return nil, ErrTruncated
		}
		m, used, err := readFrame(rest[:n])
		if err != nil {
			return nil, err
		}
		if used != int(n) {
			return nil, ErrTrailingData
		}
		ms = append(ms, m)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(rest))
	}
	return ms, nil
}
