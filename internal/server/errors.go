package server

import "errors"

var (
	// ErrCapacityExceeded means every slot was occupied; the new connection
	// has already been closed.
	ErrCapacityExceeded = errors.New("server: capacity exceeded")

	// ErrTransportFault wraps any I/O error that tore a connection down.
	ErrTransportFault = errors.New("server: transport fault")

	// ErrSlowConsumer means a connection's outbox filled up.
	ErrSlowConsumer = errors.New("server: slow consumer")

	ErrUnknownSlot  = errors.New("server: unknown slot")
	ErrSlotFree     = errors.New("server: slot is free")
	ErrNotBound     = errors.New("server: slot has no UDP binding")
	ErrConnClosed   = errors.New("server: connection closed")
	ErrServerClosed = errors.New("server: closed")
	ErrNotListening = errors.New("server: not listening")
)
