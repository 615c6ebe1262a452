// Package dispatch routes decoded frames to typed handlers by message tag.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/1ureka/rtnet/internal/protocol"
)

var ErrUnknownTag = errors.New("dispatch: unknown tag")

// Handler decodes the rest of a frame after its tag. from identifies where
// the frame came from: a slot id on the server, the session on the client.
type Handler[C any] func(from C, r *protocol.Reader) error

// Table maps every tag to at most one handler. It is built once by NewTable
// and is read-only afterwards, so lookups need no locking.
type Table[C any] struct {
	handlers [protocol.MaxTag + 1]Handler[C]
}

// NewTable builds a table from entries. Tags outside the defined set are
// rejected.
func NewTable[C any](entries map[protocol.Tag]Handler[C]) (*Table[C], error) {
	t := &Table[C]{}
	for tag, h := range entries {
		if !tag.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
		}
		t.handlers[tag] = h
	}
	return t, nil
}

// Has reports whether a handler is registered for tag.
func (t *Table[C]) Has(tag protocol.Tag) bool {
	return tag.Valid() && t.handlers[tag] != nil
}

// Dispatch reads the tag at the front of payload and runs its handler.
// The returned tag is valid whenever the payload held at least 4 bytes.
func (t *Table[C]) Dispatch(from C, payload []byte) (protocol.Tag, error) {
	r := protocol.NewReader(payload)
	tag, err := r.ReadTag()
	if err != nil {
		return 0, err
	}
	if !t.Has(tag) {
		return tag, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	if err := t.handlers[tag](from, r); err != nil {
		return tag, fmt.Errorf("dispatch %s: %w", tag, err)
	}
	return tag, nil
}
