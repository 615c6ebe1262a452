package protocol

import (
	"encoding/binary"
	"math"
)

// Reader is the read phase of a message: an immutable byte view decoded
// sequentially from a cursor.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b. The reader never modifies b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the total number of bytes in the view.
func (r *Reader) Len() int { return len(r.buf) }

// Pos returns the cursor position.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Rest returns the unread bytes without advancing the cursor.
func (r *Reader) Rest() []byte { return r.buf[r.pos:] }

// Unread moves the cursor back by one 32-bit field, so a handler can re-peek
// a tag or length it just read.
func (r *Reader) Unread() error {
	if r.pos < 4 {
		return ErrUnreadUnderflow
	}
	r.pos -= 4
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n > r.Remaining() {
		return nil, ErrDecodeUnderflow
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadInt16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadTag reads the leading message tag. Unknown values are returned as-is.
func (r *Reader) ReadTag() (Tag, error) {
	v, err := r.ReadInt32()
	return Tag(v), err
}

func (r *Reader) readSized() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrNegativeLength
	}
	return r.take(int(n))
}

// ReadString reads an int32 byte count followed by one byte per character.
func (r *Reader) ReadString() (string, error) {
	b, err := r.readSized()
	if err != nil {
		return "", err
	}
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes), nil
}

// ReadBlob reads an int32 byte count followed by that many bytes. The
// returned slice is a copy.
func (r *Reader) ReadBlob() ([]byte, error) {
	b, err := r.readSized()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadRaw reads exactly n bytes with no length prefix. The returned slice
// aliases the view.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	return r.take(n)
}

func (r *Reader) ReadVector3() (Vector3, error) {
	b, err := r.take(12)
	if err != nil {
		return Vector3{}, err
	}
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}

func (r *Reader) ReadQuaternion() (Quaternion, error) {
	b, err := r.take(16)
	if err != nil {
		return Quaternion{}, err
	}
	return Quaternion{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		W: math.Float32frombits(binary.LittleEndian.Uint32(b[12:])),
	}, nil
}
