package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize is the largest frame body this codec will accept.
// Token responses are a few hundred bytes; a declared length beyond this
// limit indicates a corrupted stream or a misbehaving peer, and rejecting it
// early avoids allocating attacker-controlled amounts of memory.
const MaxFrameSize = 1 << 20 // 1 MiB

// headerSize is the fixed byte length of the frame header.
const headerSize = 4

// WriteFrame writes a single frame to w: a 4-byte little-endian length
// header followed by the JSON encoding of v.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame body: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame body of %d bytes exceeds maximum of %d", len(body), MaxFrameSize)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads a single frame from r and decodes its JSON body into v.
// It blocks until the full declared length has been read. Bytes beyond the
// declared length are left on the stream for the next frame.
//
// A stream that ends before the header or body is complete yields an error
// wrapping io.ErrUnexpectedEOF (or io.EOF when nothing was read at all, so
// callers can distinguish a clean close from a truncated frame).
func ReadFrame(r io.Reader, v interface{}) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return err
		}
		return fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return fmt.Errorf("declared frame length %d exceeds maximum of %d", length, MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read frame body (%d bytes declared): %w", length, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode frame body: %w", err)
	}
	return nil
}
