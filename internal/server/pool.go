package server

import (
	"net/netip"
	"sync"

	"golang.org/x/time/rate"

	"github.com/1ureka/rtnet/internal/session"
)

// Slot is one fixed connection identity. Its fields are guarded by mu; the
// pool lock is only taken to assign or release.
type Slot struct {
	id int32

	mu      sync.Mutex
	conn    *conn          // nil while the slot is free
	udpAddr netip.AddrPort // zero until the first datagram binds it
	limiter *rate.Limiter

	session session.Session
}

// ID returns the slot identity, 1..capacity.
func (sl *Slot) ID() int32 { return sl.id }

func (sl *Slot) owner() *conn {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.conn
}

// udpTarget returns the owning connection and its bound endpoint, if any.
func (sl *Slot) udpTarget() (*conn, netip.AddrPort) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.conn, sl.udpAddr
}

type bindResult int

const (
	bindFree  bindResult = iota // no connection holds the slot
	bindNew                     // this datagram created the binding
	bindMatch                   // datagram came from the bound endpoint
	bindSpoof                   // datagram came from some other endpoint
)

// bindUDP binds the slot to from on first contact, or checks from against
// the existing binding.
func (sl *Slot) bindUDP(from netip.AddrPort, limit rate.Limit, burst int) (*conn, *rate.Limiter, bindResult) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	switch {
	case sl.conn == nil:
		return nil, nil, bindFree
	case !sl.udpAddr.IsValid():
		sl.udpAddr = from
		if limit > 0 {
			sl.limiter = rate.NewLimiter(limit, burst)
		}
		return sl.conn, sl.limiter, bindNew
	case sl.udpAddr != from:
		return sl.conn, nil, bindSpoof
	default:
		return sl.conn, sl.limiter, bindMatch
	}
}

// accept records the peer's reply token, provided c still owns the slot.
func (sl *Slot) accept(c *conn, token string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.conn != c {
		return ErrConnClosed
	}
	return sl.session.Accept(0, "", token)
}

func (sl *Slot) clearUDP() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.udpAddr = netip.AddrPort{}
	sl.limiter = nil
}

// Pool is the fixed-capacity slot table.
type Pool struct {
	mu       sync.Mutex
	slots    []*Slot
	occupied int
}

// NewPool creates slots 1..capacity, all free.
func NewPool(capacity int) *Pool {
	p := &Pool{slots: make([]*Slot, capacity)}
	for i := range p.slots {
		p.slots[i] = &Slot{id: int32(i + 1)}
	}
	return p
}

// Cap returns the number of slots.
func (p *Pool) Cap() int { return len(p.slots) }

// Len returns the number of occupied slots.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.occupied
}

// Get returns the slot with the given identity, or nil when id is out of
// range. Identity 0 is never a slot.
func (p *Pool) Get(id int32) *Slot {
	if id < 1 || int(id) > len(p.slots) {
		return nil
	}
	return p.slots[id-1]
}

// assign hands the first free slot to c.
func (p *Pool) assign(c *conn) (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sl := range p.slots {
		sl.mu.Lock()
		if sl.conn == nil {
			sl.conn = c
			sl.udpAddr = netip.AddrPort{}
			sl.limiter = nil
			c.bind(sl)
			sl.mu.Unlock()
			p.occupied++
			return sl, nil
		}
		sl.mu.Unlock()
	}
	return nil, ErrCapacityExceeded
}

// release frees sl if c still owns it. It reports whether the slot was freed.
func (p *Pool) release(sl *Slot, c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.conn != c {
		return false
	}
	sl.conn = nil
	sl.udpAddr = netip.AddrPort{}
	sl.limiter = nil
	sl.session.Reset()
	p.occupied--
	return true
}

// Occupied returns the slots holding a connection, in identity order.
func (p *Pool) Occupied() []*Slot {
	out := make([]*Slot, 0, len(p.slots))
	for _, sl := range p.slots {
		if sl.owner() != nil {
			out = append(out, sl)
		}
	}
	return out
}
