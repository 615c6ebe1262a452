// Package protocol implements the typed binary wire encoding shared by the
// server and the client.
//
// A frame on the wire is [int32 length][payload], where payload is
// [int32 tag][int32 targetID][typed bytes]. All integers are little-endian.
package protocol

import (
	"encoding/binary"
	"math"
	"sync"
)

// Tag selects how a frame's payload is decoded.
type Tag int32

const (
	TagInitialization Tag = 1
	TagNull           Tag = 2
	TagCustom         Tag = 3
	TagString         Tag = 4
	TagBoolean        Tag = 5
	TagFloat          Tag = 6
	TagLong           Tag = 7
	TagShort          Tag = 8
	TagVector3        Tag = 9
	TagQuaternion     Tag = 10
	TagByte           Tag = 11
	TagBytes          Tag = 12
	TagInteger        Tag = 13
)

// MaxTag is the highest defined tag. Tables indexed by tag use MaxTag+1 entries.
const MaxTag = TagInteger

var tagNames = [...]string{
	TagInitialization: "INITIALIZATION",
	TagNull:           "NULL",
	TagCustom:         "CUSTOM",
	TagString:         "STRING",
	TagBoolean:        "BOOLEAN",
	TagFloat:          "FLOAT",
	TagLong:           "LONG",
	TagShort:          "SHORT",
	TagVector3:        "VECTOR3",
	TagQuaternion:     "QUATERNION",
	TagByte:           "BYTE",
	TagBytes:          "BYTES",
	TagInteger:        "INTEGER",
}

// Valid reports whether t is one of the defined tags.
func (t Tag) Valid() bool {
	return t >= TagInitialization && t <= MaxTag
}

func (t Tag) String() string {
	if !t.Valid() {
		return "UNKNOWN"
	}
	return tagNames[t]
}

// Vector3 is three float32 components, encoded X, Y, Z with no padding.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is four float32 components, encoded X, Y, Z, W with no padding.
type Quaternion struct {
	X, Y, Z, W float32
}

// headroom is reserved in front of every packet so that the tag and the
// length prefix can be inserted without moving the body.
const headroom = 8

// maxPooledCap keeps oversized buffers out of the pool.
const maxPooledCap = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 512)
		return &b
	},
}

// Packet is the write phase of a message: an append-only byte builder whose
// buffer comes from a pool. Exactly one goroutine builds a packet, and the
// builder must call Release once the bytes are no longer needed.
type Packet struct {
	pooled *[]byte
	buf    []byte
	off    int // buf[off:] is the logical content
}

// NewPacket returns an empty packet backed by a pooled buffer.
func NewPacket() *Packet {
	bp := bufPool.Get().(*[]byte)
	return &Packet{
		pooled: bp,
		buf:    append((*bp)[:0], make([]byte, headroom)...),
		off:    headroom,
	}
}

// NewTagged returns a packet whose first field is tag.
func NewTagged(tag Tag) *Packet {
	p := NewPacket()
	p.WriteInt32(int32(tag))
	return p
}

// Release hands the buffer back to the pool. The packet must not be used
// afterwards. Release is safe to call more than once.
func (p *Packet) Release() {
	if p.pooled == nil {
		return
	}
	if cap(p.buf) <= maxPooledCap {
		*p.pooled = p.buf[:0]
		bufPool.Put(p.pooled)
	}
	p.pooled = nil
	p.buf = nil
	p.off = 0
}

// Len returns the number of content bytes written so far.
func (p *Packet) Len() int { return len(p.buf) - p.off }

// Bytes returns the content. The slice aliases the pooled buffer and is only
// valid until the next write or Release.
func (p *Packet) Bytes() []byte { return p.buf[p.off:] }

func (p *Packet) WriteUint8(v uint8) { p.buf = append(p.buf, v) }

func (p *Packet) WriteBool(v bool) {
	if v {
		p.buf = append(p.buf, 1)
		return
	}
	p.buf = append(p.buf, 0)
}

func (p *Packet) WriteInt16(v int16) {
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(v))
}

func (p *Packet) WriteInt32(v int32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

func (p *Packet) WriteInt64(v int64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(v))
}

func (p *Packet) WriteFloat32(v float32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, math.Float32bits(v))
}

// WriteString writes an int32 byte count followed by one byte per character.
// Characters outside the single-byte range are written as '?'.
func (p *Packet) WriteString(s string) {
	lenAt := len(p.buf)
	p.WriteInt32(0)
	for _, r := range s {
		if r > 0xFF {
			r = '?'
		}
		p.buf = append(p.buf, byte(r))
	}
	binary.LittleEndian.PutUint32(p.buf[lenAt:], uint32(len(p.buf)-lenAt-4))
}

// WriteBlob writes an int32 byte count followed by b.
func (p *Packet) WriteBlob(b []byte) {
	p.WriteInt32(int32(len(b)))
	p.buf = append(p.buf, b...)
}

// WriteRaw appends b with no length prefix.
func (p *Packet) WriteRaw(b []byte) { p.buf = append(p.buf, b...) }

func (p *Packet) WriteVector3(v Vector3) {
	p.WriteFloat32(v.X)
	p.WriteFloat32(v.Y)
	p.WriteFloat32(v.Z)
}

func (p *Packet) WriteQuaternion(q Quaternion) {
	p.WriteFloat32(q.X)
	p.WriteFloat32(q.Y)
	p.WriteFloat32(q.Z)
	p.WriteFloat32(q.W)
}

// InsertInt32 prepends v to the very front of the content.
func (p *Packet) InsertInt32(v int32) {
	if p.off < 4 {
		grown := make([]byte, headroom, headroom+len(p.buf)-p.off+cap(p.buf)/2)
		grown = append(grown, p.buf[p.off:]...)
		p.buf = grown
		p.off = headroom
	}
	p.off -= 4
	binary.LittleEndian.PutUint32(p.buf[p.off:], uint32(v))
}

// InsertTag prepends tag.
func (p *Packet) InsertTag(tag Tag) { p.InsertInt32(int32(tag)) }

// InsertLength prepends the current content length, turning the content into
// one frame.
func (p *Packet) InsertLength() { p.InsertInt32(int32(p.Len())) }

// Reader takes an immutable snapshot of the content for the read phase.
func (p *Packet) Reader() *Reader {
	snap := make([]byte, p.Len())
	copy(snap, p.Bytes())
	return NewReader(snap)
}
