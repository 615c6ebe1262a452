// Package server accepts peers into a fixed pool of slots and exchanges typed
// frames with them over TCP (or WebSocket) and UDP on a single port.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

// Events are the application hooks. Receive callbacks get the slot the frame
// came from. Callbacks for one slot may run concurrently when that slot uses
// both TCP and UDP.
type Events struct {
	OnConnected    func(slot int32, addr net.Addr)
	OnDisconnected func(slot int32, addr net.Addr)
	// OnEstablished fires once the peer has answered INITIALIZATION.
	OnEstablished func(slot int32)
	// OnTick fires TickRate times per second while the server runs.
	OnTick func(now time.Time)

	dispatch.Callbacks[int32]
}

type Options struct {
	Config   config.ServerConfig
	Events   Events
	Tokens   session.TokenSource // defaults to session.RandomTokens
	Reporter util.Reporter       // defaults to util.ConsoleReporter
	Stats    *util.Stats         // defaults to a private counter set
}

// Server owns the slot pool, the dispatch table and both sockets.
type Server struct {
	cfg      config.ServerConfig
	events   Events
	tokens   session.TokenSource
	reporter util.Reporter
	stats    *util.Stats

	table *dispatch.Table[*conn]
	pool  *Pool

	mu        sync.Mutex // orders Attach against Close
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	ln  net.Listener
	udp *net.UDPConn
}

func New(opts Options) (*Server, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	s := &Server{
		cfg:      opts.Config,
		events:   opts.Events,
		tokens:   opts.Tokens,
		reporter: opts.Reporter,
		stats:    opts.Stats,
		pool:     NewPool(opts.Config.MaxSlots),
	}
	if s.tokens == nil {
		s.tokens = session.RandomTokens{}
	}
	if s.reporter == nil {
		s.reporter = util.ConsoleReporter{}
	}
	if s.stats == nil {
		s.stats = &util.Stats{}
	}

	entries := make(map[protocol.Tag]dispatch.Handler[*conn])
	for tag, h := range opts.Events.Callbacks.Entries() {
		entries[tag] = bySlot(h)
	}
	entries[protocol.TagInitialization] = s.handleInit
	table, err := dispatch.NewTable(entries)
	if err != nil {
		return nil, err
	}
	s.table = table

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Listen binds the TCP listener and the UDP socket to the configured address.
// With port 0 the UDP socket takes whatever port TCP was given.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}

	tcpAddr := ln.Addr().(*net.TCPAddr)
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: tcpAddr.IP, Port: tcpAddr.Port, Zone: tcpAddr.Zone})
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to bind udp on %s: %w", tcpAddr, err)
	}

	s.ln = ln
	s.udp = udp
	return nil
}

// Serve runs the accept loop, the UDP loop and the tick loop until ctx is
// cancelled, Close is called, or the listener fails. All connections are torn
// down before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil || s.udp == nil {
		return ErrNotListening
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.acceptLoop)
	g.Go(s.udpLoop)
	if s.cfg.TickRate > 0 && s.events.OnTick != nil {
		g.Go(func() error { return s.tickLoop(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.ctx.Done():
		}
		s.Close()
		return nil
	})

	err := g.Wait()
	s.wg.Wait()
	return err
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) acceptLoop() error {
	util.LogInfo("listening on %s (tcp+udp, %d slots)", s.ln.Addr(), s.pool.Cap())

	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept error: %w", err)
		}
		_ = s.Attach(c)
	}
}

// Attach assigns a slot to an accepted stream and starts its handshake. When
// no slot is free the stream is closed and ErrCapacityExceeded returned; other
// slots are not affected.
func (s *Server) Attach(stream transport.Conn) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		stream.Close()
		return ErrServerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	c := newConn(s, stream)
	if _, err := s.pool.assign(c); err != nil {
		s.wg.Done()
		c.cancel()
		stream.Close()
		s.stats.AddReject()
		metrics.ConnRejected()
		util.LogWarning("rejected %s: %v", stream.RemoteAddr(), err)
		return err
	}

	s.stats.AddConn()
	metrics.ConnOpened("server", c.kind)
	metrics.SetSlotsOccupied(s.pool.Len())

	go c.run()
	return nil
}

func (s *Server) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.events.OnTick(now)
		case <-ctx.Done():
			return nil
		case <-s.ctx.Done():
			return nil
		}
	}
}

// bySlot hands an application handler the slot id of the connection a
// frame arrived on.
func bySlot(h dispatch.Handler[int32]) dispatch.Handler[*conn] {
	if h == nil {
		return nil
	}
	return func(c *conn, r *protocol.Reader) error {
		return h(c.slot.id, r)
	}
}

// handleFrame dispatches one frame payload read by c. Decode failures drop
// the frame only, and so does a connection that has lost its slot.
func (s *Server) handleFrame(c *conn, payload []byte, via string) {
	if !c.live() {
		c.log.Debug("connection closed, dropping frame")
		return
	}
	tag, err := s.table.Dispatch(c, payload)
	s.stats.AddRecv(len(payload) + 4)
	metrics.FrameReceived("server", via, tag.String(), len(payload)+4)
	if err != nil {
		metrics.DecodeError("server")
		c.log.Debug("dropping frame: %v", err)
	}
}

// handleInit stores the token a client answers INITIALIZATION with.
func (s *Server) handleInit(c *conn, r *protocol.Reader) error {
	token, err := r.ReadString()
	if err != nil {
		return err
	}
	if err := c.slot.accept(c, token); err != nil {
		return err
	}
	if fn := s.events.OnEstablished; fn != nil && c.live() {
		fn(c.slot.id)
	}
	return nil
}

// Close stops both sockets and tears down every connection. It is safe to
// call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()
		if s.ln != nil {
			s.ln.Close()
		}
		if s.udp != nil {
			s.udp.Close()
		}
		for _, sl := range s.pool.Occupied() {
			if c := sl.owner(); c != nil {
				c.teardown(nil)
			}
		}
	})
	return nil
}

// Addr returns the TCP listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// UDPAddr returns the UDP socket address, or nil before Listen.
func (s *Server) UDPAddr() net.Addr {
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

func (s *Server) Stats() *util.Stats { return s.stats }

// Pool exposes the slot table for inspection.
func (s *Server) Pool() *Pool { return s.pool }

// SlotInfo describes one occupied slot.
type SlotInfo struct {
	ID        int32  `json:"id"`
	Transport string `json:"transport"`
	Remote    string `json:"remote"`
	UDP       string `json:"udp,omitempty"`
	State     string `json:"state"`
	Token     string `json:"token,omitempty"` // the peer's reply token
}

// Slots returns a snapshot of the occupied slots.
func (s *Server) Slots() []SlotInfo {
	var out []SlotInfo
	for _, sl := range s.pool.Occupied() {
		c, addr := sl.udpTarget()
		if c == nil {
			continue
		}
		info := SlotInfo{
			ID:        sl.id,
			Transport: c.kind,
			Remote:    c.stream.RemoteAddr().String(),
			State:     sl.session.State().String(),
		}
		if addr.IsValid() {
			info.UDP = addr.String()
		}
		_, info.Token = sl.session.Tokens()
		out = append(out, info)
	}
	return out
}
