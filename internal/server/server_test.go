package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/framing"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/transport"
)

const waitFor = 2 * time.Second

func startServer(t *testing.T, mutate func(*config.ServerConfig), ev Events) *Server {
	t.Helper()

	cfg := config.DefaultServer()
	cfg.Port = 0
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(Options{
		Config: cfg,
		Events: ev,
		Tokens: session.TokenFunc(func() string { return "abcd1234" }),
	})
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("server did not stop")
		}
	})
	return s
}

// readFrame reads one [length][payload] frame and returns the payload.
func readFrame(t *testing.T, c net.Conn) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))

	var hdr [4]byte
	_, err := io.ReadFull(c, hdr[:])
	require.NoError(t, err)

	payload := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	_, err = io.ReadFull(c, payload)
	require.NoError(t, err)
	return payload
}

// handshake dials the server, reads INITIALIZATION and answers it.
func handshake(t *testing.T, s *Server) (net.Conn, int32) {
	t.Helper()

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	r := protocol.NewReader(readFrame(t, c))
	tag, err := r.ReadTag()
	require.NoError(t, err)
	require.Equal(t, protocol.TagInitialization, tag)
	id, err := r.ReadInt32()
	require.NoError(t, err)
	token, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "abcd1234", token)

	_, err = c.Write(protocol.EncodeInitReply("client-token").Frame())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Pool().Get(id).session.State() == session.Established
	}, waitFor, 5*time.Millisecond)
	return c, id
}

func dialUDP(t *testing.T, s *Server) *net.UDPConn {
	t.Helper()
	u, err := net.DialUDP("udp", nil, s.UDPAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u
}

func TestHandshakeAndStringDelivery(t *testing.T) {
	type recv struct {
		slot, target int32
		v            string
	}
	got := make(chan recv, 1)
	established := make(chan int32, 1)
	connected := make(chan int32, 1)

	s := startServer(t, nil, Events{
		OnConnected:   func(slot int32, _ net.Addr) { connected <- slot },
		OnEstablished: func(slot int32) { established <- slot },
		Callbacks: dispatch.Callbacks[int32]{
			OnString: func(slot, target int32, v string) { got <- recv{slot, target, v} },
		},
	})

	c, id := handshake(t, s)
	assert.Equal(t, int32(1), id)
	assert.Equal(t, int32(1), <-connected)
	assert.Equal(t, int32(1), <-established)

	_, err := c.Write(protocol.EncodeString(123, "Hello world").Frame())
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, recv{1, 123, "Hello world"}, r)
	case <-time.After(waitFor):
		t.Fatal("STRING handler did not fire")
	}

	slots := s.Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, "established", slots[0].State)
	assert.Equal(t, "client-token", slots[0].Token)
	assert.Equal(t, "tcp", slots[0].Transport)
}

func TestFramesSplitAcrossWrites(t *testing.T) {
	got := make(chan int32, 2)
	s := startServer(t, nil, Events{
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(_, _ int32, v int32) { got <- v },
		},
	})
	c, _ := handshake(t, s)

	stream := append(protocol.EncodeInteger(1, 10).Frame(), protocol.EncodeInteger(1, 20).Frame()...)
	for _, b := range stream {
		_, err := c.Write([]byte{b})
		require.NoError(t, err)
	}

	for _, want := range []int32{10, 20} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(waitFor):
			t.Fatal("frame not reassembled")
		}
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	got := make(chan int32, 1)
	s := startServer(t, nil, Events{
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(_, _ int32, v int32) { got <- v },
		},
	})
	c, _ := handshake(t, s)

	long := protocol.EncodeLong(1, 5).Frame()
	truncated := append([]byte{}, long[:len(long)-4]...)
	binary.LittleEndian.PutUint32(truncated, uint32(len(truncated)-4))

	_, err := c.Write(truncated)
	require.NoError(t, err)
	_, err = c.Write(protocol.EncodeInteger(1, 7).Frame())
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, int32(7), v)
	case <-time.After(waitFor):
		t.Fatal("connection did not survive a bad frame")
	}
	assert.Equal(t, 1, s.Pool().Len())
}

func TestCapacityExceeded(t *testing.T) {
	got := make(chan int32, 1)
	s := startServer(t, func(c *config.ServerConfig) { c.MaxSlots = 1 }, Events{
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(slot, _ int32, v int32) { got <- slot },
		},
	})
	first, _ := handshake(t, s)

	extra, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer extra.Close()

	require.NoError(t, extra.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = extra.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "the extra connection is closed immediately")

	assert.Equal(t, 1, s.Pool().Len())
	assert.Equal(t, int64(1), s.Stats().Rejected.Load())

	_, err = first.Write(protocol.EncodeInteger(1, 1).Frame())
	require.NoError(t, err)
	select {
	case slot := <-got:
		assert.Equal(t, int32(1), slot, "existing slot keeps working")
	case <-time.After(waitFor):
		t.Fatal("existing slot disturbed")
	}
}

func TestUDPBindingRejectsOtherEndpoints(t *testing.T) {
	got := make(chan int32, 4)
	s := startServer(t, nil, Events{
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(_, _ int32, v int32) { got <- v },
		},
	})
	_, id := handshake(t, s)

	owner := dialUDP(t, s)
	_, err := owner.Write(framing.WrapDatagram(id, nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		slots := s.Slots()
		return len(slots) == 1 && slots[0].UDP == owner.LocalAddr().String()
	}, waitFor, 5*time.Millisecond)

	intruder := dialUDP(t, s)
	_, err = intruder.Write(framing.WrapDatagram(id, protocol.EncodeInteger(1, 666).Frame()))
	require.NoError(t, err)
	_, err = owner.Write(framing.WrapDatagram(id, protocol.EncodeInteger(1, 42).Frame()))
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, int32(42), v)
	case <-time.After(waitFor):
		t.Fatal("datagram from the bound endpoint was not accepted")
	}
	select {
	case v := <-got:
		t.Fatalf("spoofed datagram delivered: %d", v)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, owner.LocalAddr().String(), s.Slots()[0].UDP, "binding unchanged")
}

func TestUDPIgnoresUnknownAndShortDatagrams(t *testing.T) {
	got := make(chan int32, 1)
	s := startServer(t, func(c *config.ServerConfig) { c.MaxSlots = 2 }, Events{
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(_, _ int32, v int32) { got <- v },
		},
	})
	u := dialUDP(t, s)

	for _, d := range [][]byte{
		{1, 2},
		framing.WrapDatagram(0, protocol.EncodeInteger(1, 1).Frame()),
		framing.WrapDatagram(9, protocol.EncodeInteger(1, 1).Frame()),
		framing.WrapDatagram(2, protocol.EncodeInteger(1, 1).Frame()), // free slot
	} {
		_, err := u.Write(d)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return s.Stats().Dropped.Load() == 4 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, got)
}

func TestServerSendsOverUDP(t *testing.T) {
	s := startServer(t, nil, Events{})
	_, id := handshake(t, s)

	u := dialUDP(t, s)
	assert.ErrorIs(t, s.Send(id, transport.UDP, protocol.EncodeFloat(1, 1)), ErrNotBound)

	_, err := u.Write(framing.WrapDatagram(id, nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Slots()[0].UDP != "" }, waitFor, 5*time.Millisecond)

	require.NoError(t, s.Send(id, transport.UDP, protocol.EncodeFloat(3, 2.5)))

	buf := make([]byte, 128)
	require.NoError(t, u.SetReadDeadline(time.Now().Add(waitFor)))
	n, err := u.Read(buf)
	require.NoError(t, err)

	payload, err := framing.UnwrapFrame(buf[:n], 0)
	require.NoError(t, err)
	r := protocol.NewReader(payload)
	tag, _ := r.ReadTag()
	target, _ := r.ReadInt32()
	v, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, protocol.TagFloat, tag)
	assert.Equal(t, int32(3), target)
	assert.Equal(t, float32(2.5), v)
}

func TestSendToAllExcept(t *testing.T) {
	s := startServer(t, nil, Events{})

	conns := map[int32]net.Conn{}
	for i := 0; i < 3; i++ {
		c, id := handshake(t, s)
		conns[id] = c
	}
	require.Len(t, conns, 3)

	n := s.SendToAllExcept(2, transport.TCP, protocol.EncodeInteger(7, 42))
	assert.Equal(t, 2, n)

	for _, id := range []int32{1, 3} {
		r := protocol.NewReader(readFrame(t, conns[id]))
		tag, _ := r.ReadTag()
		target, _ := r.ReadInt32()
		v, err := r.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, protocol.TagInteger, tag)
		assert.Equal(t, int32(7), target)
		assert.Equal(t, int32(42), v)
	}

	require.NoError(t, conns[2].SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err := conns[2].Read(make([]byte, 1))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "slot 2 receives nothing")

	assert.Equal(t, 3, s.SendToAll(transport.TCP, protocol.EncodeNull(1)))
	assert.Equal(t, 0, s.SendToAll(transport.UDP, protocol.EncodeNull(1)), "no slot is UDP-bound")
}

func TestDisconnectFreesSlotForReuse(t *testing.T) {
	disconnected := make(chan int32, 1)
	s := startServer(t, nil, Events{
		OnDisconnected: func(slot int32, _ net.Addr) { disconnected <- slot },
	})
	c, id := handshake(t, s)

	require.NoError(t, s.Disconnect(id))
	assert.Equal(t, id, <-disconnected)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := c.Read(make([]byte, 1))
	assert.Error(t, err)

	assert.ErrorIs(t, s.Disconnect(id), ErrSlotFree)
	assert.ErrorIs(t, s.Disconnect(99), ErrUnknownSlot)
	assert.ErrorIs(t, s.Send(id, transport.TCP, protocol.EncodeNull(0)), ErrSlotFree)

	_, again := handshake(t, s)
	assert.Equal(t, id, again, "a fresh connection takes the first free slot")
}

func TestPeerCloseTriggersTeardownOnce(t *testing.T) {
	var count atomic.Int32
	s := startServer(t, nil, Events{
		OnDisconnected: func(int32, net.Addr) { count.Add(1) },
	})
	c, id := handshake(t, s)
	u := dialUDP(t, s)
	_, err := u.Write(framing.WrapDatagram(id, nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Slots()[0].UDP != "" }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.Pool().Len() == 0 }, waitFor, 5*time.Millisecond)

	_ = s.Disconnect(id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())

	_, addr := s.Pool().Get(id).udpTarget()
	assert.False(t, addr.IsValid(), "UDP binding cleared")
}

func TestTickLoop(t *testing.T) {
	var ticks atomic.Int32
	startServer(t, func(c *config.ServerConfig) { c.TickRate = 100 }, Events{
		OnTick: func(time.Time) { ticks.Add(1) },
	})
	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, waitFor, 5*time.Millisecond)
}

func TestAttachWebSocketStyleStream(t *testing.T) {
	s := startServer(t, nil, Events{})

	a, b := net.Pipe()
	defer b.Close()
	require.NoError(t, s.Attach(a))

	r := protocol.NewReader(readFrame(t, b))
	tag, _ := r.ReadTag()
	assert.Equal(t, protocol.TagInitialization, tag)
	assert.Equal(t, 1, s.Pool().Len())
}

func TestServeWithoutListen(t *testing.T) {
	cfg := config.DefaultServer()
	s, err := New(Options{Config: cfg})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
	assert.Nil(t, s.Addr())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.MaxSlots = 0
	_, err := New(Options{Config: cfg})
	assert.Error(t, err)
}

func TestUDPRateLimit(t *testing.T) {
	got := make(chan int32, 8)
	s := startServer(t, func(c *config.ServerConfig) {
		c.UDPRate = 0.001
		c.UDPBurst = 1
	}, Events{
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(_, _ int32, v int32) { got <- v },
		},
	})
	_, id := handshake(t, s)

	u := dialUDP(t, s)
	_, err := u.Write(framing.WrapDatagram(id, nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Slots()[0].UDP != "" }, waitFor, 5*time.Millisecond)

	for i := int32(0); i < 3; i++ {
		_, err := u.Write(framing.WrapDatagram(id, protocol.EncodeInteger(1, i).Frame()))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return s.Stats().Dropped.Load() == 2 }, waitFor, 5*time.Millisecond)
	select {
	case v := <-got:
		assert.Equal(t, int32(0), v, "the burst admits the first datagram")
	case <-time.After(waitFor):
		t.Fatal("no datagram admitted")
	}
	assert.Empty(t, got)
}

func TestFramesReadBeforeDisconnectAreNotDelivered(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls, late atomic.Int32
	var gone atomic.Bool

	s := startServer(t, nil, Events{
		OnDisconnected: func(int32, net.Addr) { gone.Store(true) },
		Callbacks: dispatch.Callbacks[int32]{
			OnInteger: func(_, _ int32, _ int32) {
				if gone.Load() {
					late.Add(1)
				}
				if calls.Add(1) == 1 {
					close(entered)
					<-release
				}
			},
		},
	})
	c, id := handshake(t, s)

	// One write, so the read loop holds every frame when the first blocks.
	var batch []byte
	for i := int32(0); i < 50; i++ {
		batch = append(batch, protocol.EncodeInteger(1, i).Frame()...)
	}
	_, err := c.Write(batch)
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(waitFor):
		close(release)
		t.Fatal("INTEGER handler did not fire")
	}
	require.NoError(t, s.Disconnect(id))
	require.True(t, gone.Load())
	close(release)

	assert.Never(t, func() bool { return calls.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, late.Load(), "no handler runs after OnDisconnected")
}

func TestSendToClosedHolder(t *testing.T) {
	s, err := New(Options{Config: config.DefaultServer()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	a, b := net.Pipe()
	defer b.Close()
	c := newConn(s, a)
	_, err = s.pool.assign(c)
	require.NoError(t, err)

	// The writer has stopped but the slot is still held.
	c.cancel()
	<-c.sender.Done()
	assert.ErrorIs(t, s.Send(1, transport.TCP, protocol.EncodeNull(0)), ErrConnClosed)
}

func TestSendToSlowConsumer(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.OutboxSize = 1
	s, err := New(Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	a, b := net.Pipe() // b is never read
	defer b.Close()
	c := newConn(s, a)
	_, err = s.pool.assign(c)
	require.NoError(t, err)

	var sendErr error
	for i := 0; i < 3 && sendErr == nil; i++ {
		sendErr = s.Send(1, transport.TCP, protocol.EncodeNull(0))
	}
	assert.ErrorIs(t, sendErr, ErrSlowConsumer)
	assert.Nil(t, s.Pool().Get(1).owner(), "the slow holder is torn down")
	assert.ErrorIs(t, s.Send(1, transport.TCP, protocol.EncodeNull(0)), ErrSlotFree)
}

func TestAttachDuringClose(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Port = 0
	s, err := New(Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := net.Pipe()
			defer b.Close()
			_ = s.Attach(a)
		}()
	}
	cancel()
	wg.Wait()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("server did not stop")
	}

	a, b := net.Pipe()
	defer b.Close()
	assert.ErrorIs(t, s.Attach(a), ErrServerClosed)
	assert.Zero(t, s.Pool().Len())
}
