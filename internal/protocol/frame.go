package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds the declared payload length of an inbound
// frame. Oversized frames are fatal for the connection that sent them.
const DefaultMaxFrameBytes = 16 << 20

// ErrFrameTooLarge is returned by ReadFrame when the length prefix exceeds
// the configured maximum.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes payload prefixed with its 4-byte little-endian length.
// Header and payload go out in a single Write call so a frame is never
// split across writes.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, blocking until the full
// frame has arrived. It returns io.EOF on a clean close between frames and
// io.ErrUnexpectedEOF wrapped in the returned error on a close mid-frame.
// A maxBytes of zero falls back to DefaultMaxFrameBytes.
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	if maxBytes == 0 {
		maxBytes = DefaultMaxFrameBytes
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes declared, limit %d", ErrFrameTooLarge, length, maxBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}
