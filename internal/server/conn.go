package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/ztrue/tracerr"

	"github.com/1ureka/rtnet/internal/framing"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

// conn is the lifecycle of one stream connection holding a slot. Teardown
// runs at most once no matter which goroutine detects the end first.
type conn struct {
	srv    *Server
	slot   *Slot // set by Pool.assign
	stream transport.Conn
	kind   string
	id     uuid.UUID
	log    util.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	sender   *transport.Sender
	udpInbox chan []byte // datagram payloads waiting for dispatch
}

func newConn(s *Server, stream transport.Conn) *conn {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &conn{
		srv:      s,
		stream:   stream,
		kind:     transport.Kind(stream),
		id:       uuid.New(),
		ctx:      ctx,
		cancel:   cancel,
		udpInbox: make(chan []byte, s.cfg.OutboxSize),
	}
	c.sender = transport.NewSender(ctx, stream, s.cfg.OutboxSize, func(err error) {
		c.teardown(fmt.Errorf("%w: write: %w", ErrTransportFault, err))
	})
	return c
}

// bind records the slot this connection was assigned. Pool.assign calls it
// under the slot lock, so anything reaching c through the slot sees both.
func (c *conn) bind(sl *Slot) {
	c.slot = sl
	c.log = util.With("slot", sl.id, "conn", c.id.String()[:8], "via", c.kind)
}

// run performs the handshake offer and then reads until the stream ends.
func (c *conn) run() {
	defer c.srv.wg.Done()

	if c.ctx.Err() != nil {
		c.teardown(nil)
		return
	}
	sl := c.slot
	addr := c.stream.RemoteAddr()
	c.log.Info("connected from %s", addr)

	token := c.srv.tokens.Token()
	if err := sl.session.Offer(sl.id, token); err != nil {
		c.teardown(tracerr.Wrap(err))
		return
	}
	_ = c.send(protocol.EncodeInit(sl.id, token))

	if fn := c.srv.events.OnConnected; fn != nil {
		fn(sl.id, addr)
	}

	c.srv.wg.Add(1)
	go c.dispatchUDP()

	c.teardown(c.readLoop())
}

// readLoop feeds the stream through a reassembler and dispatches every frame
// in arrival order. It returns nil on a clean close.
func (c *conn) readLoop() error {
	buf := make([]byte, c.srv.cfg.BufferSize)
	reasm := framing.NewReassembler(c.srv.cfg.MaxFrame)

	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			frames, reset, ferr := reasm.Feed(buf[:n])
			for _, f := range frames {
				if c.ctx.Err() != nil {
					return nil
				}
				c.srv.handleFrame(c, f, c.kind)
			}
			if reset {
				c.log.Debug("non-positive frame length, stream buffer cleared")
			}
			if ferr != nil {
				return tracerr.Wrap(fmt.Errorf("%w: %w", ErrTransportFault, ferr))
			}
		}
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return tracerr.Wrap(fmt.Errorf("%w: read: %w", ErrTransportFault, err))
		}
	}
}

// dispatchUDP runs datagram handlers for this slot off the shared UDP loop.
func (c *conn) dispatchUDP() {
	defer c.srv.wg.Done()
	for {
		select {
		case payload := <-c.udpInbox:
			if c.ctx.Err() != nil {
				return
			}
			c.srv.handleFrame(c, payload, "udp")
		case <-c.ctx.Done():
			return
		}
	}
}

// deliverUDP queues a datagram payload, dropping it if the slot is behind.
func (c *conn) deliverUDP(payload []byte) {
	select {
	case c.udpInbox <- payload:
	default:
		c.srv.drop(metrics.DropBacklog)
		util.LogDebug("slot %d: udp inbox full, dropping datagram", c.slot.id)
	}
}

// live reports whether c still holds its slot. Once teardown has started no
// further frame from c reaches a handler.
func (c *conn) live() bool {
	return c.ctx.Err() == nil && c.slot.owner() == c
}

// send queues a frame on the stream. A full outbox tears the connection down.
func (c *conn) send(m protocol.Message) error {
	if err := c.sender.Send(m.Frame()); err != nil {
		if errors.Is(err, transport.ErrOutboxFull) {
			c.teardown(tracerr.Wrap(ErrSlowConsumer))
			return ErrSlowConsumer
		}
		return ErrConnClosed
	}
	c.srv.stats.AddSent(m.Len())
	metrics.FrameSent("server", c.kind, m.Tag.String(), m.Len())
	return nil
}

// teardown closes the stream, clears the UDP binding, notifies the
// application and frees the slot. A nil err means a clean disconnect.
func (c *conn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.stream.Close()

		sl := c.slot
		addr := c.stream.RemoteAddr()
		if err != nil {
			c.srv.reporter.Report(err, "connection fault", c.log.Args()...)
		}
		sl.clearUDP()

		if fn := c.srv.events.OnDisconnected; fn != nil {
			fn(sl.id, addr)
		}

		if c.srv.pool.release(sl, c) {
			c.srv.stats.RemoveConn()
			metrics.ConnClosed("server")
			metrics.SetSlotsOccupied(c.srv.pool.Len())
		}
		c.log.Info("disconnected")
	})
}
