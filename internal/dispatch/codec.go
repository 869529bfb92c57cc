package dispatch

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Native messaging frame limits. The browser rejects host messages over
// 1 MiB; inbound frames may in theory reach 4 GiB but are capped here.
const (
	MaxOutgoingMessage = 1 << 20
	MaxIncomingMessage = 64 << 20
)

// WriteMessage writes v as one native messaging frame: a 4-byte length in
// native byte order followed by UTF-8 JSON.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if len(payload) > MaxOutgoingMessage {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.NativeEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and decodes it into v. A clean end of stream
// before the header returns io.EOF.
func ReadMessage(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// ReadFrame reads one raw frame payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	n := binary.NativeEndian.Uint32(header[:])
	if n > MaxIncomingMessage {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return payload, nil
}
