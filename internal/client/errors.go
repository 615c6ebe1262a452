package client

import "errors"

var (
	// ErrTransportFault wraps any I/O error that ended the connection.
	ErrTransportFault = errors.New("client: transport fault")

	// ErrSlowConsumer means the outbox filled up faster than the stream drained.
	ErrSlowConsumer = errors.New("client: slow consumer")

	// ErrConnectTimeout means no INITIALIZATION arrived within connect_timeout.
	ErrConnectTimeout = errors.New("client: connect timed out")

	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotConnected     = errors.New("client: not connected")
	ErrNotEstablished   = errors.New("client: handshake not complete")
	ErrNoUDP            = errors.New("client: udp socket unavailable")
	ErrClosed           = errors.New("client: connection closed")
)
