package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ztrue/tracerr"

	"github.com/1ureka/rtnet/internal/framing"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

const maxDatagram = 64 * 1024

// link is one connection attempt and, once the handshake completes, one live
// session. Teardown runs at most once.
type link struct {
	cl     *Client
	stream transport.Conn
	kind   string
	sender *transport.Sender
	log    util.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	established chan struct{}
	estOnce     sync.Once

	mu  sync.Mutex
	udp *net.UDPConn
}

func newLink(cl *Client) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		cl:          cl,
		ctx:         ctx,
		cancel:      cancel,
		established: make(chan struct{}),
		log:         util.With("role", "client"),
	}
}

// start takes ownership of stream and begins reading it. The caller has
// already added the read loop to cl.wg.
func (l *link) start(stream transport.Conn) {
	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		stream.Close()
		l.cl.wg.Done()
		return
	}
	l.stream = stream
	l.kind = transport.Kind(stream)
	l.log = l.log.With("via", l.kind)
	l.sender = transport.NewSender(l.ctx, stream, l.cl.cfg.OutboxSize, func(err error) {
		l.teardown(faultf("write: %w", err))
	})
	l.mu.Unlock()

	go func() {
		defer l.cl.wg.Done()
		l.teardown(l.readLoop())
	}()
}

func (l *link) readLoop() error {
	buf := make([]byte, l.cl.cfg.BufferSize)
	reasm := framing.NewReassembler(l.cl.cfg.MaxFrame)

	for {
		n, err := l.stream.Read(buf)
		if n > 0 {
			frames, reset, ferr := reasm.Feed(buf[:n])
			for _, f := range frames {
				if l.ctx.Err() != nil {
					return nil
				}
				l.cl.handleFrame(l, f, l.kind, l.log)
			}
			if reset {
				l.log.Debug("non-positive frame length, stream buffer cleared")
			}
			if ferr != nil {
				return faultf("%w", ferr)
			}
		}
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return faultf("read: %w", err)
		}
	}
}

// live reports whether l is still the client's connection.
func (l *link) live() bool {
	return l.ctx.Err() == nil && l.cl.current() == l
}

func (l *link) markEstablished() {
	l.estOnce.Do(func() { close(l.established) })
}

func (l *link) isEstablished() bool {
	select {
	case <-l.established:
		return true
	default:
		return false
	}
}

func (l *link) send(m protocol.Message) error {
	if err := l.sender.Send(m.Frame()); err != nil {
		if errors.Is(err, transport.ErrOutboxFull) {
			l.teardown(tracerr.Wrap(ErrSlowConsumer))
			return ErrSlowConsumer
		}
		return ErrClosed
	}
	l.cl.stats.AddSent(m.Len())
	metrics.FrameSent("client", l.kind, m.Tag.String(), m.Len())
	return nil
}

// openUDP binds a UDP socket, preferring the stream's local port, connects it
// to the server address and starts the probe and receive goroutines.
func (l *link) openUDP(id int32) error {
	raddr, err := net.ResolveUDPAddr("udp", l.cl.cfg.ServerAddr())
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.cl.cfg.ServerAddr(), err)
	}

	var u *net.UDPConn
	if tcp, ok := l.stream.LocalAddr().(*net.TCPAddr); ok {
		u, err = net.DialUDP("udp", &net.UDPAddr{IP: tcp.IP, Port: tcp.Port, Zone: tcp.Zone}, raddr)
	}
	if u == nil {
		u, err = net.DialUDP("udp", nil, raddr)
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		u.Close()
		return ErrClosed
	}
	l.udp = u
	l.mu.Unlock()

	l.cl.wg.Add(2)
	go l.udpLoop(u)
	go l.probe(u, id)
	return nil
}

// probe sends the empty identity datagram that lets the server bind this
// socket. It is repeated since any single datagram may be lost.
func (l *link) probe(u *net.UDPConn, id int32) {
	defer l.cl.wg.Done()

	d := framing.WrapDatagram(id, nil)
	for i := 0; i < l.cl.cfg.ProbeCount; i++ {
		if i > 0 {
			select {
			case <-time.After(l.cl.cfg.ProbeInterval):
			case <-l.ctx.Done():
				return
			}
		}
		if _, err := u.Write(d); err != nil {
			l.log.Debug("udp probe: %v", err)
		}
	}
}

func (l *link) udpLoop(u *net.UDPConn) {
	defer l.cl.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, err := u.Read(buf)
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// A refused earlier write is reported on the next read.
			l.log.Debug("udp read: %v", err)
			continue
		}

		payload, err := framing.UnwrapFrame(buf[:n], l.cl.cfg.MaxFrame)
		if err != nil {
			reason := metrics.DropMalformed
			if errors.Is(err, framing.ErrShortDatagram) {
				reason = metrics.DropShort
			}
			l.cl.stats.AddDrop()
			metrics.DatagramDropped(reason)
			continue
		}
		l.cl.handleFrame(l, payload, "udp", l.log)
	}
}

func (l *link) sendUDP(id int32, m protocol.Message) error {
	l.mu.Lock()
	u := l.udp
	l.mu.Unlock()
	if u == nil {
		return ErrNoUDP
	}
	if _, err := u.Write(framing.WrapDatagram(id, m.Frame())); err != nil {
		l.log.Debug("udp write: %v", err)
		return nil
	}
	l.cl.stats.AddSent(m.Len() + 4)
	metrics.FrameSent("client", "udp", m.Tag.String(), m.Len()+4)
	return nil
}

// teardown closes the stream and the UDP socket, resets the session and
// tells the application if the connection had been established. A nil err
// means a clean disconnect.
func (l *link) teardown(err error) {
	l.closeOnce.Do(func() {
		l.cancel()

		l.mu.Lock()
		if l.stream != nil {
			_ = l.stream.Close()
		}
		log := l.log
		l.mu.Unlock()

		if err != nil {
			l.cl.reporter.Report(err, "connection fault", log.Args()...)
		}

		l.mu.Lock()
		if l.udp != nil {
			_ = l.udp.Close()
			l.udp = nil
		}
		l.mu.Unlock()

		cl := l.cl
		cl.mu.Lock()
		if cl.link == l {
			cl.link = nil
			cl.session.Reset()
		}
		cl.mu.Unlock()

		if l.isEstablished() {
			cl.stats.RemoveConn()
			metrics.ConnClosed("client")
			if fn := cl.events.OnDisconnectedFromServer; fn != nil {
				fn()
			}
			log.Info("disconnected from server")
		}
	})
}
