// Package nativehost implements the native messaging channel between the
// relay and an out-of-process host: 4-byte native-endian length prefix
// followed by a UTF-8 JSON body, one message per frame.
package nativehost

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize caps inbound frames at 1 MiB.
const MaxMessageSize = 1 << 20

// ErrFrameTooLarge is returned when a frame header announces more than MaxMessageSize bytes.
var ErrFrameTooLarge = errors.New("native message exceeds size limit")

// ReadFrame reads one length-prefixed frame. It returns io.EOF only when the
// stream ends cleanly before a header.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	n := binary.NativeEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body with its length prefix.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var header [4]byte
	binary.NativeEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	body, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding native message: %w", err)
	}
	return nil
}

// WriteMessage encodes v as JSON and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding native message: %w", err)
	}
	return WriteFrame(w, body)
}
