// Package transport provides the stream connections the server and client
// exchange frames over, and the per-connection writer that serializes sends.
package transport

import (
	"io"
	"net"
)

// Protocol selects which channel a message is sent on.
type Protocol int

const (
	// TCP is the reliable stream: a TCP connection or a WebSocket.
	TCP Protocol = iota
	// UDP is the unreliable datagram channel bound during the handshake.
	UDP
)

func (p Protocol) String() string {
	if p == UDP {
		return "udp"
	}
	return "tcp"
}

// Conn is a reliable byte stream carrying [int32 length][payload] frames.
// net.Conn satisfies it, as does the WebSocket adapter. Closing a Conn must
// unblock a pending Read.
type Conn interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Kind names the underlying transport of c for logs and metrics.
func Kind(c Conn) string {
	if _, ok := c.(*wsConn); ok {
		return "ws"
	}
	return "tcp"
}
