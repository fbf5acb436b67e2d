package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed-size frame header: an 8-byte big-endian length.
const HeaderSize = 8

// DefaultMaxFrameSize bounds a frame payload. The manifest is the only framed
// message, so this is the largest manifest a receiver accepts.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// MaxFrameLimit is the largest limit a decoder can be configured with.
const MaxFrameLimit = 1 << 30

// ErrFrameTooLarge is returned when a frame header declares a payload above
// the decoder's limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// EncodeFrame prefixes payload with its length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decoder reassembles frames from a byte stream that arrives in arbitrary
// pieces. It is not safe for concurrent use.
type Decoder struct {
	buf []byte
	max uint64
}

// NewDecoder returns a decoder that rejects payloads larger than max.
// A max of zero selects DefaultMaxFrameSize; larger limits are clamped to
// MaxFrameLimit.
func NewDecoder(max uint64) *Decoder {
	if max == 0 {
		max = DefaultMaxFrameSize
	}
	if max > MaxFrameLimit {
		max = MaxFrameLimit
	}
	return &Decoder{max: max}
}

// Write buffers p. It never fails; limits are enforced by Next.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload. ok is false when more bytes are
// needed. An oversized header is reported as soon as the header is complete,
// without waiting for the payload.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint64(d.buf[:HeaderSize])
	if length > d.max {
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, d.max)
	}
	end := HeaderSize + int(length)
	if len(d.buf) < end {
		return nil, false, nil
	}

	payload = make([]byte, length)
	copy(payload, d.buf[HeaderSize:end])
	d.buf = d.buf[end:]
	return payload, true, nil
}

// Buffered reports how many bytes are held without forming a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Rest hands back every buffered byte and empties the decoder. The transfer
// uses it to switch from framed to raw mode right after the manifest.
func (d *Decoder) Rest() []byte {
	rest := d.buf
	d.buf = nil
	return rest
}
