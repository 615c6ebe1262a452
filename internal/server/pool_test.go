package server

import (
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtnet/internal/session"
)

func fakeConn() *conn { return &conn{id: uuid.New(), kind: "tcp"} }

func TestPoolAssignsFirstFreeSlot(t *testing.T) {
	p := NewPool(3)
	a, b, c := fakeConn(), fakeConn(), fakeConn()

	sa, err := p.assign(a)
	require.NoError(t, err)
	sb, err := p.assign(b)
	require.NoError(t, err)
	assert.Equal(t, int32(1), sa.ID())
	assert.Equal(t, int32(2), sb.ID())
	assert.Equal(t, sa, a.slot)

	require.True(t, p.release(sa, a))
	sc, err := p.assign(c)
	require.NoError(t, err)
	assert.Equal(t, int32(1), sc.ID(), "freed slot is reused first")
	assert.Equal(t, 2, p.Len())
}

func TestPoolCapacity(t *testing.T) {
	p := NewPool(1)
	_, err := p.assign(fakeConn())
	require.NoError(t, err)

	_, err = p.assign(fakeConn())
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 1, p.Len())
}

func TestPoolReleaseRequiresOwner(t *testing.T) {
	p := NewPool(1)
	a, b := fakeConn(), fakeConn()
	sl, err := p.assign(a)
	require.NoError(t, err)

	assert.False(t, p.release(sl, b))
	assert.True(t, p.release(sl, a))
	assert.False(t, p.release(sl, a), "second release is a no-op")
	assert.Zero(t, p.Len())
}

func TestPoolGetBounds(t *testing.T) {
	p := NewPool(2)
	assert.Nil(t, p.Get(0))
	assert.Nil(t, p.Get(-1))
	assert.Nil(t, p.Get(3))
	assert.Equal(t, int32(2), p.Get(2).ID())
}

func TestSlotBindUDP(t *testing.T) {
	p := NewPool(1)
	sl := p.Get(1)
	e := netip.MustParseAddrPort("127.0.0.1:4000")
	other := netip.MustParseAddrPort("127.0.0.1:4001")

	_, _, verdict := sl.bindUDP(e, 0, 0)
	assert.Equal(t, bindFree, verdict)

	a := fakeConn()
	_, err := p.assign(a)
	require.NoError(t, err)

	c, lim, verdict := sl.bindUDP(e, 10, 1)
	assert.Equal(t, bindNew, verdict)
	assert.Equal(t, a, c)
	assert.NotNil(t, lim)

	_, _, verdict = sl.bindUDP(other, 10, 1)
	assert.Equal(t, bindSpoof, verdict)

	_, _, verdict = sl.bindUDP(e, 10, 1)
	assert.Equal(t, bindMatch, verdict)

	_, addr := sl.udpTarget()
	assert.Equal(t, e, addr)

	sl.clearUDP()
	_, _, verdict = sl.bindUDP(other, 0, 0)
	assert.Equal(t, bindNew, verdict, "a cleared slot binds again")
}

func TestSlotAcceptRequiresOwner(t *testing.T) {
	p := NewPool(1)
	old, cur := fakeConn(), fakeConn()
	sl, err := p.assign(old)
	require.NoError(t, err)
	require.True(t, p.release(sl, old))

	_, err = p.assign(cur)
	require.NoError(t, err)
	require.NoError(t, sl.session.Offer(1, "abcd1234"))

	assert.ErrorIs(t, sl.accept(old, "stale"), ErrConnClosed)
	assert.Equal(t, session.AwaitingInit, sl.session.State(), "the new holder's handshake is untouched")

	require.NoError(t, sl.accept(cur, "fresh"))
	_, remote := sl.session.Tokens()
	assert.Equal(t, "fresh", remote)
}
