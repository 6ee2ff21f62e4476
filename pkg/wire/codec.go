package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// malformed or hostile length prefix (§7 "Malformed frame").
const MaxFrameSize = 32 * 1024 * 1024

// ErrMalformedFrame marks a ReadFrame failure that happened after the
// length-prefixed body was read off the wire intact — the envelope just
// didn't parse as JSON. It is a per-frame defect, not a transport failure:
// callers should log it, drop the frame, and keep reading the connection
// (§7 "Malformed frame (decode failure): log, drop frame, keep connection").
// Any other ReadFrame error is a real I/O failure and ends the connection.
var ErrMalformedFrame = errors.New("malformed frame")

// Encode wraps a typed payload into a Message of the given type.
func Encode(t Type, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

// Decode unmarshals a Message's payload into dst, which must be a pointer
// to one of the *Payload structs in this package.
func Decode(msg Message, dst any) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded message (§6 "length-prefixed frames").
func WriteFrame(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads the next length-prefixed frame and decodes its envelope.
// A header/body I/O failure (connection reset, EOF, deadline exceeded) is
// returned as-is and should end the connection. A frame that was read in
// full but failed to unmarshal as JSON is reported wrapping
// ErrMalformedFrame — the caller is expected to log and drop just that
// frame, keeping the connection open (§7 "Malformed frame").
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return Message{}, fmt.Errorf("frame too large: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}
