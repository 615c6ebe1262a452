// Package client connects a single peer to a server, completes the session
// handshake and exchanges typed frames over the stream and over UDP.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ztrue/tracerr"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

// Events are the application hooks. Receive callbacks get the client itself
// so a handler can answer without capturing it.
type Events struct {
	// OnConnectResult reports the outcome of every Connect call.
	OnConnectResult func(ok bool)
	// OnDisconnectedFromServer fires once when an established connection ends.
	OnDisconnectedFromServer func()

	dispatch.Callbacks[*Client]
}

type Options struct {
	Config   config.ClientConfig
	Events   Events
	Tokens   session.TokenSource // defaults to session.RandomTokens
	Reporter util.Reporter       // defaults to util.ConsoleReporter
	Stats    *util.Stats         // defaults to a private counter set
}

// Client owns one session with a server. After a disconnect it may Connect
// again and receives a fresh identity.
type Client struct {
	cfg      config.ClientConfig
	events   Events
	tokens   session.TokenSource
	reporter util.Reporter
	stats    *util.Stats

	table   *dispatch.Table[*link]
	session session.Session

	mu   sync.Mutex
	link *link // nil while disconnected
	wg   sync.WaitGroup
}

func New(opts Options) (*Client, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	cl := &Client{
		cfg:      opts.Config,
		events:   opts.Events,
		tokens:   opts.Tokens,
		reporter: opts.Reporter,
		stats:    opts.Stats,
	}
	if cl.tokens == nil {
		cl.tokens = session.RandomTokens{}
	}
	if cl.reporter == nil {
		cl.reporter = util.ConsoleReporter{}
	}
	if cl.stats == nil {
		cl.stats = &util.Stats{}
	}

	entries := make(map[protocol.Tag]dispatch.Handler[*link])
	for tag, h := range opts.Events.Callbacks.Entries() {
		entries[tag] = toClient(h)
	}
	entries[protocol.TagInitialization] = cl.handleInit
	table, err := dispatch.NewTable(entries)
	if err != nil {
		return nil, err
	}
	cl.table = table
	return cl, nil
}

// Connect dials the server and waits for the handshake to finish or for
// connect_timeout to pass. OnConnectResult is called with the outcome either
// way. The connection outlives ctx; use Disconnect to end it.
func (cl *Client) Connect(ctx context.Context) (err error) {
	defer func() {
		if fn := cl.events.OnConnectResult; fn != nil {
			fn(err == nil)
		}
	}()

	cl.mu.Lock()
	if cl.link != nil {
		cl.mu.Unlock()
		return ErrAlreadyConnected
	}
	if err := cl.session.Advance(session.Connecting); err != nil {
		cl.mu.Unlock()
		return err
	}
	l := newLink(cl)
	cl.link = l
	cl.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cl.cfg.ConnectTimeout)
	defer cancel()

	stream, err := cl.dial(ctx)
	if err != nil {
		l.teardown(nil)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
		}
		return err
	}
	if err := cl.session.Advance(session.AwaitingInit); err != nil {
		stream.Close()
		l.teardown(nil)
		return err
	}

	cl.wg.Add(1)
	l.start(stream)

	select {
	case <-l.established:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		l.teardown(nil)
		return fmt.Errorf("%w: waiting for INITIALIZATION", ErrConnectTimeout)
	}
}

func (cl *Client) dial(ctx context.Context) (transport.Conn, error) {
	if cl.cfg.Transport == config.TransportWS {
		u, err := config.NormalizeWSURL(cl.cfg.WSURL)
		if err != nil {
			return nil, err
		}
		return transport.DialWebSocket(ctx, u)
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", cl.cfg.ServerAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cl.cfg.ServerAddr(), err)
	}
	return c, nil
}

// toClient hands an application handler the client that owns the link a
// frame arrived on.
func toClient(h dispatch.Handler[*Client]) dispatch.Handler[*link] {
	if h == nil {
		return nil
	}
	return func(l *link, r *protocol.Reader) error {
		return h(l.cl, r)
	}
}

// handleInit answers the server's INITIALIZATION with a fresh token, moves
// the session to Established and opens the UDP channel.
func (cl *Client) handleInit(l *link, r *protocol.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	token, err := r.ReadString()
	if err != nil {
		return err
	}

	local := cl.tokens.Token()
	if err := cl.accept(l, id, local, token); err != nil {
		return err
	}
	if err := l.send(protocol.EncodeInitReply(local)); err != nil {
		return err
	}

	if err := l.openUDP(id); err != nil {
		// The stream still works without UDP.
		l.log.Warn("udp unavailable: %v", err)
	}

	l.markEstablished()
	cl.stats.AddConn()
	metrics.ConnOpened("client", l.kind)
	l.log.Info("established as slot %d (server token %s)", id, token)
	return nil
}

// accept completes the handshake, provided l is still the current link.
func (cl *Client) accept(l *link, id int32, local, remote string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.link != l || l.ctx.Err() != nil {
		return ErrClosed
	}
	return cl.session.Accept(id, local, remote)
}

// handleFrame dispatches one frame payload read by l. Decode failures drop
// the frame, and so does a link that has been torn down.
func (cl *Client) handleFrame(l *link, payload []byte, via string, log util.Logger) {
	if !l.live() {
		log.Debug("connection closed, dropping frame")
		return
	}
	tag, err := cl.table.Dispatch(l, payload)
	cl.stats.AddRecv(len(payload) + 4)
	metrics.FrameReceived("client", via, tag.String(), len(payload)+4)
	if err != nil {
		metrics.DecodeError("client")
		log.Debug("dropping frame: %v", err)
	}
}

func (cl *Client) current() *link {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.link
}

// Send writes msg to the server over the chosen protocol. UDP datagrams carry
// the assigned identity in front of the frame; a failed UDP write is dropped.
func (cl *Client) Send(proto transport.Protocol, msg protocol.Message) error {
	l := cl.current()
	if l == nil {
		return ErrNotConnected
	}
	if !l.isEstablished() {
		return ErrNotEstablished
	}
	if proto == transport.UDP {
		return l.sendUDP(cl.session.ID(), msg)
	}
	return l.send(msg)
}

// Disconnect ends the current connection, if any. It is safe to call at any
// time and more than once.
func (cl *Client) Disconnect() {
	if l := cl.current(); l != nil {
		l.teardown(nil)
	}
}

// Close disconnects and waits for the connection goroutines to exit.
func (cl *Client) Close() error {
	cl.Disconnect()
	cl.wg.Wait()
	return nil
}

// ID returns the slot identity assigned by the server, or 0.
func (cl *Client) ID() int32 { return cl.session.ID() }

func (cl *Client) State() session.State { return cl.session.State() }

// Tokens returns this client's token and the one the server sent.
func (cl *Client) Tokens() (local, remote string) { return cl.session.Tokens() }

func (cl *Client) Stats() *util.Stats { return cl.stats }

// LocalUDPAddr returns the address of the UDP socket, or nil before the
// handshake.
func (cl *Client) LocalUDPAddr() net.Addr {
	l := cl.current()
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.udp == nil {
		return nil
	}
	return l.udp.LocalAddr()
}

func faultf(format string, err error) error {
	return tracerr.Wrap(fmt.Errorf("%w: "+format, ErrTransportFault, err))
}
