// Package framing turns byte streams and datagrams into complete frames.
//
// A frame on the wire is [int32 length][payload]; the helpers here return the
// payload only.
package framing

import (
	"encoding/binary"
	"errors"
)

// DefaultMaxFrame bounds the declared payload length of a single frame.
const DefaultMaxFrame = 1 << 20

const prefixLen = 4

var (
	ErrFrameTooLarge  = errors.New("framing: frame too large")
	ErrShortDatagram  = errors.New("framing: datagram too short")
	ErrEmptyFrame     = errors.New("framing: non-positive frame length")
	ErrTruncatedFrame = errors.New("framing: frame exceeds datagram")
)

// Reassembler carries partial data across reads of one stream. It is owned by
// a single read loop and is not safe for concurrent use.
type Reassembler struct {
	buf      []byte
	maxFrame int
}

// NewReassembler returns a reassembler rejecting frames larger than maxFrame.
// A non-positive maxFrame selects DefaultMaxFrame.
func NewReassembler(maxFrame int) *Reassembler {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Reassembler{maxFrame: maxFrame}
}

// Buffered returns the number of residual bytes waiting for more data.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Feed appends chunk and returns every complete frame payload now available,
// in order. Each payload is an independent copy.
//
// A zero or negative length prefix ends extraction and discards the whole
// buffer; reset reports that this happened. A declared length above the limit
// also discards the buffer and returns ErrFrameTooLarge, which the caller
// should treat as a transport fault.
func (r *Reassembler) Feed(chunk []byte) (frames [][]byte, reset bool, err error) {
	r.buf = append(r.buf, chunk...)

	pos := 0
	for len(r.buf)-pos >= prefixLen {
		n := int32(binary.LittleEndian.Uint32(r.buf[pos:]))
		if n <= 0 {
			r.buf = r.buf[:0]
			return frames, true, nil
		}
		if int(n) > r.maxFrame {
			r.buf = r.buf[:0]
			return frames, false, ErrFrameTooLarge
		}
		if int(n) > len(r.buf)-pos-prefixLen {
			break
		}

		start := pos + prefixLen
		frame := make([]byte, n)
		copy(frame, r.buf[start:start+int(n)])
		frames = append(frames, frame)
		pos = start + int(n)
	}

	// Keep the residue at the front of the buffer.
	rest := copy(r.buf, r.buf[pos:])
	r.buf = r.buf[:rest]
	return frames, false, nil
}

// Reset discards any buffered residue.
func (r *Reassembler) Reset() { r.buf = r.buf[:0] }
