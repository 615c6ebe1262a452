package protocol

// Message is a sealed frame, [int32 length][payload], ready to be written to
// any number of connections. It is immutable once built.
type Message struct {
	Tag   Tag
	frame []byte
}

// Frame returns the length-prefixed bytes. Callers must not modify them.
func (m Message) Frame() []byte { return m.frame }

// Len returns the size of the frame on the wire.
func (m Message) Len() int { return len(m.frame) }

// seal finalizes p with a length prefix, copies it out and releases p.
func seal(tag Tag, p *Packet) Message {
	defer p.Release()
	p.InsertLength()
	frame := make([]byte, p.Len())
	copy(frame, p.Bytes())
	return Message{Tag: tag, frame: frame}
}

func target(tag Tag, id int32) *Packet {
	p := NewTagged(tag)
	p.WriteInt32(id)
	return p
}

// EncodeInit builds the server's INITIALIZATION frame carrying the assigned
// slot identity and the server's token.
func EncodeInit(identity int32, token string) Message {
	p := NewTagged(TagInitialization)
	p.WriteInt32(identity)
	p.WriteString(token)
	return seal(TagInitialization, p)
}

// EncodeInitReply builds the client's INITIALIZATION reply carrying its token.
func EncodeInitReply(token string) Message {
	p := NewTagged(TagInitialization)
	p.WriteString(token)
	return seal(TagInitialization, p)
}

// EncodeNull builds a NULL frame, which carries only the target identifier.
func EncodeNull(targetID int32) Message {
	return seal(TagNull, target(TagNull, targetID))
}

// EncodeCustom tags p as CUSTOM and seals it. The payload is opaque to this
// package. EncodeCustom takes ownership of p and releases it.
func EncodeCustom(p *Packet) Message {
	p.InsertTag(TagCustom)
	return seal(TagCustom, p)
}

func EncodeString(targetID int32, v string) Message {
	p := target(TagString, targetID)
	p.WriteString(v)
	return seal(TagString, p)
}

func EncodeBool(targetID int32, v bool) Message {
	p := target(TagBoolean, targetID)
	p.WriteBool(v)
	return seal(TagBoolean, p)
}

func EncodeFloat(targetID int32, v float32) Message {
	p := target(TagFloat, targetID)
	p.WriteFloat32(v)
	return seal(TagFloat, p)
}

func EncodeLong(targetID int32, v int64) Message {
	p := target(TagLong, targetID)
	p.WriteInt64(v)
	return seal(TagLong, p)
}

func EncodeShort(targetID int32, v int16) Message {
	p := target(TagShort, targetID)
	p.WriteInt16(v)
	return seal(TagShort, p)
}

func EncodeVector3(targetID int32, v Vector3) Message {
	p := target(TagVector3, targetID)
	p.WriteVector3(v)
	return seal(TagVector3, p)
}

func EncodeQuaternion(targetID int32, v Quaternion) Message {
	p := target(TagQuaternion, targetID)
	p.WriteQuaternion(v)
	return seal(TagQuaternion, p)
}

func EncodeByte(targetID int32, v uint8) Message {
	p := target(TagByte, targetID)
	p.WriteUint8(v)
	return seal(TagByte, p)
}

func EncodeBytes(targetID int32, v []byte) Message {
	p := target(TagBytes, targetID)
	p.WriteBlob(v)
	return seal(TagBytes, p)
}

func EncodeInteger(targetID int32, v int32) Message {
	p := target(TagInteger, targetID)
	p.WriteInt32(v)
	return seal(TagInteger, p)
}
