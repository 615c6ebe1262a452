package protocol

import "errors"

var (
	// ErrDecodeUnderflow is returned when fewer bytes remain than a read needs.
	// A packet must not be read further after this error.
	ErrDecodeUnderflow = errors.New("protocol: decode underflow")

	// ErrNegativeLength is returned when a string or blob declares a negative size.
	ErrNegativeLength = errors.New("protocol: negative length prefix")

	// ErrUnreadUnderflow is returned by Reader.Unread when fewer than 4 bytes
	// have been consumed.
	ErrUnreadUnderflow = errors.New("protocol: nothing to unread")
)
