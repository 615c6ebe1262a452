package dispatch

import "github.com/1ureka/rtnet/internal/protocol"

// Null returns a handler for frames carrying only a target identifier.
func Null[C any](fn func(from C, targetID int32)) Handler[C] {
	return func(from C, r *protocol.Reader) error {
		id, err := r.ReadInt32()
		if err != nil {
			return err
		}
		if fn != nil {
			fn(from, id)
		}
		return nil
	}
}

// Value returns a handler that reads a target identifier followed by one value
// using read. A nil fn still decodes the frame so malformed input is reported.
func Value[C, V any](read func(*protocol.Reader) (V, error), fn func(from C, targetID int32, v V)) Handler[C] {
	return func(from C, r *protocol.Reader) error {
		id, err := r.ReadInt32()
		if err != nil {
			return err
		}
		v, err := read(r)
		if err != nil {
			return err
		}
		if fn != nil {
			fn(from, id, v)
		}
		return nil
	}
}

// Custom hands the reader, positioned just past the tag, to fn untouched.
func Custom[C any](fn func(from C, r *protocol.Reader)) Handler[C] {
	return func(from C, r *protocol.Reader) error {
		if fn != nil {
			fn(from, r)
		}
		return nil
	}
}

// Callbacks are the per-kind receive hooks an application supplies. Any of
// them may be nil.
type Callbacks[C any] struct {
	OnNull       func(from C, targetID int32)
	OnCustom     func(from C, r *protocol.Reader)
	OnString     func(from C, targetID int32, v string)
	OnBool       func(from C, targetID int32, v bool)
	OnFloat      func(from C, targetID int32, v float32)
	OnLong       func(from C, targetID int32, v int64)
	OnShort      func(from C, targetID int32, v int16)
	OnVector3    func(from C, targetID int32, v protocol.Vector3)
	OnQuaternion func(from C, targetID int32, v protocol.Quaternion)
	OnByte       func(from C, targetID int32, v uint8)
	OnBytes      func(from C, targetID int32, v []byte)
	OnInteger    func(from C, targetID int32, v int32)
}

// Entries returns a handler for every tag except INITIALIZATION, which
// belongs to the session handshake.
func (cb Callbacks[C]) Entries() map[protocol.Tag]Handler[C] {
	return map[protocol.Tag]Handler[C]{
		protocol.TagNull:       Null(cb.OnNull),
		protocol.TagCustom:     Custom(cb.OnCustom),
		protocol.TagString:     Value((*protocol.Reader).ReadString, cb.OnString),
		protocol.TagBoolean:    Value((*protocol.Reader).ReadBool, cb.OnBool),
		protocol.TagFloat:      Value((*protocol.Reader).ReadFloat32, cb.OnFloat),
		protocol.TagLong:       Value((*protocol.Reader).ReadInt64, cb.OnLong),
		protocol.TagShort:      Value((*protocol.Reader).ReadInt16, cb.OnShort),
		protocol.TagVector3:    Value((*protocol.Reader).ReadVector3, cb.OnVector3),
		protocol.TagQuaternion: Value((*protocol.Reader).ReadQuaternion, cb.OnQuaternion),
		protocol.TagByte:       Value((*protocol.Reader).ReadUint8, cb.OnByte),
		protocol.TagBytes:      Value((*protocol.Reader).ReadBlob, cb.OnBytes),
		protocol.TagInteger:    Value((*protocol.Reader).ReadInt32, cb.OnInteger),
	}
}
