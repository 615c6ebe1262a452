package framing

import "encoding/binary"

// WrapDatagram prefixes a frame with the sender's slot identity:
// [int32 sender][frame]. An empty frame produces the 4-byte binding probe.
func WrapDatagram(sender int32, frame []byte) []byte {
	d := make([]byte, prefixLen, prefixLen+len(frame))
	binary.LittleEndian.PutUint32(d, uint32(sender))
	return append(d, frame...)
}

// SplitDatagram separates the claimed sender identity from the rest of the
// datagram. The returned body aliases d.
func SplitDatagram(d []byte) (sender int32, body []byte, err error) {
	if len(d) < prefixLen {
		return 0, nil, ErrShortDatagram
	}
	return int32(binary.LittleEndian.Uint32(d)), d[prefixLen:], nil
}

// UnwrapFrame extracts the payload of the single frame a datagram body
// carries. Bytes past the declared length are ignored. The payload is a copy.
func UnwrapFrame(body []byte, maxFrame int) ([]byte, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	if len(body) < prefixLen {
		return nil, ErrShortDatagram
	}
	n := int32(binary.LittleEndian.Uint32(body))
	switch {
	case n <= 0:
		return nil, ErrEmptyFrame
	case int(n) > maxFrame:
		return nil, ErrFrameTooLarge
	case int(n) > len(body)-prefixLen:
		return nil, ErrTruncatedFrame
	}
	payload := make([]byte, n)
	copy(payload, body[prefixLen:prefixLen+int(n)])
	return payload, nil
}
