package transport

import (
	"context"
	"errors"
	"io"
)

var (
	ErrOutboxFull = errors.New("transport: outbox full")
	ErrClosed     = errors.New("transport: sender closed")
)

// Sender is the single writer of one connection. Frames from any goroutine
// are queued on a bounded outbox and written in order by one goroutine, so
// frames from concurrent senders never interleave on the wire.
type Sender struct {
	outbox chan []byte
	done   chan struct{}
}

// NewSender starts the writer loop on w. The loop exits when ctx is cancelled
// or a write fails; onFault, if set, receives the write error.
func NewSender(ctx context.Context, w io.Writer, size int, onFault func(error)) *Sender {
	if size < 1 {
		size = 1
	}
	s := &Sender{
		outbox: make(chan []byte, size),
		done:   make(chan struct{}),
	}
	go s.loop(ctx, w, onFault)
	return s
}

func (s *Sender) loop(ctx context.Context, w io.Writer, onFault func(error)) {
	defer close(s.done)

	for {
		select {
		case frame := <-s.outbox:
			if _, err := w.Write(frame); err != nil {
				if onFault != nil && ctx.Err() == nil {
					onFault(err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Send queues frame without blocking. frame must not be modified afterwards.
// A full outbox means the peer is not keeping up; the caller decides whether
// that is fatal.
func (s *Sender) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.outbox <- frame:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrOutboxFull
	}
}

// Done is closed once the writer loop has exited.
func (s *Sender) Done() <-chan struct{} { return s.done }
