// Package wire implements the length-prefixed JSON framing used on the
// daemon socket. Each frame is a 4-byte big-endian payload length followed
// by the UTF-8 JSON payload. Framing never inspects message semantics.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadBytes is the largest payload a peer may declare. A frame header
// announcing more than this is a protocol violation, not a big message.
const MaxPayloadBytes = 100 * 1024 * 1024

const headerBytes = 4

// ErrFrameTooLarge is returned when a frame header declares a payload above
// MaxPayloadBytes. The decoder discards everything it has buffered; the
// stream cannot be resynchronized after a corrupt header.
var ErrFrameTooLarge = errors.New("wire: declared frame length exceeds limit")

// ErrInvalidPayload is returned when a well-framed payload is not valid
// JSON. Buffered data for subsequent frames is preserved.
var ErrInvalidPayload = errors.New("wire: frame payload is not valid JSON")

// WriteFrame serializes v to JSON and writes one length-prefixed frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame payload: %w", err)
	}
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(payload))
	}

	var header [headerBytes]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	// Single Write so the frame is not interleaved with a concurrent writer
	// on the same connection.
	buf := make([]byte, 0, headerBytes+len(payload))
	buf = append(buf, header[:]...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder accumulates raw bytes and slices out complete frames. It is a
// plain stateful object: feed it chunks in arrival order and collect the
// decoded messages. Not safe for concurrent use.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the internal buffer and returns every complete
// message now available. Chunks may split frames at arbitrary boundaries.
//
// On an oversized declared length the buffer is discarded entirely and
// ErrFrameTooLarge is returned together with any messages decoded before the
// bad header. A payload that is framed correctly but is not valid JSON
// yields ErrInvalidPayload while later frames in the buffer remain
// decodable; callers get the messages that did parse plus the first error.
func (d *Decoder) Feed(chunk []byte) ([]json.RawMessage, error) {
	d.buf.Write(chunk)

	var msgs []json.RawMessage
	var firstErr error

	for {
		data := d.buf.Bytes()
		if len(data) < headerBytes {
			break
		}
		declared := binary.BigEndian.Uint32(data[:headerBytes])
		if declared > MaxPayloadBytes {
			d.buf.Reset()
			if firstErr == nil {
				firstErr = fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, declared)
			}
			break
		}
		total := headerBytes + int(declared)
		if len(data) < total {
			break
		}

		payload := make([]byte, declared)
		copy(payload, data[headerBytes:total])
		d.buf.Next(total)

		if !json.Valid(payload) {
			if firstErr == nil {
				firstErr = ErrInvalidPayload
			}
			continue
		}
		msgs = append(msgs, json.RawMessage(payload))
	}

	return msgs, firstErr
}

// Buffered reports how many undecoded bytes the decoder is holding.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// ReadFrame blocks on r until one complete frame arrives and returns its
// payload. Used by the connect-per-call client, which expects exactly one
// response per connection.
func ReadFrame(r io.Reader) (json.RawMessage, error) {
	var header [headerBytes]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	declared := binary.BigEndian.Uint32(header[:])
	if declared > MaxPayloadBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, declared)
	}

	payload := make([]byte, declared)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	return payload, nil
}
