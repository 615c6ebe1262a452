package server

import (
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/transport"
)

// Send writes msg to one slot over the chosen protocol. It fails with
// ErrUnknownSlot or ErrSlotFree, for UDP with ErrNotBound when the peer has
// not sent its probe yet, and for the stream with ErrSlowConsumer or
// ErrConnClosed when the holder is going away. Delivery is not acknowledged.
func (s *Server) Send(slot int32, proto transport.Protocol, msg protocol.Message) error {
	sl := s.pool.Get(slot)
	if sl == nil {
		return ErrUnknownSlot
	}
	return s.sendTo(sl, proto, msg)
}

// SendToAll writes msg to every occupied slot and returns how many were
// reached. For UDP, slots without a binding are skipped.
func (s *Server) SendToAll(proto transport.Protocol, msg protocol.Message) int {
	return s.broadcast(proto, msg, 0)
}

// SendToAllExcept is SendToAll skipping one slot.
func (s *Server) SendToAllExcept(except int32, proto transport.Protocol, msg protocol.Message) int {
	return s.broadcast(proto, msg, except)
}

func (s *Server) broadcast(proto transport.Protocol, msg protocol.Message, except int32) int {
	sent := 0
	for _, sl := range s.pool.Occupied() {
		if sl.id == except {
			continue
		}
		if s.sendTo(sl, proto, msg) == nil {
			sent++
		}
	}
	return sent
}

func (s *Server) sendTo(sl *Slot, proto transport.Protocol, msg protocol.Message) error {
	if proto == transport.UDP {
		c, addr := sl.udpTarget()
		if c == nil {
			return ErrSlotFree
		}
		if !addr.IsValid() {
			return ErrNotBound
		}
		if s.sendUDP(addr, msg.Frame()) {
			s.stats.AddSent(msg.Len())
			metrics.FrameSent("server", "udp", msg.Tag.String(), msg.Len())
		}
		return nil
	}

	c := sl.owner()
	if c == nil {
		return ErrSlotFree
	}
	return c.send(msg)
}

// Disconnect tears down the connection holding slot, exactly as if its
// stream had failed.
func (s *Server) Disconnect(slot int32) error {
	sl := s.pool.Get(slot)
	if sl == nil {
		return ErrUnknownSlot
	}
	c := sl.owner()
	if c == nil {
		return ErrSlotFree
	}
	c.teardown(nil)
	return nil
}
