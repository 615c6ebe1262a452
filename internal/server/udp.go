package server

import (
	"errors"
	"net"
	"net/netip"

	"golang.org/x/time/rate"

	"github.com/1ureka/rtnet/internal/framing"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/util"
)

const maxDatagram = 64 * 1024

// udpLoop receives datagrams for every slot until the socket is closed.
func (s *Server) udpLoop() error {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// ICMP errors for earlier sends surface here on some platforms.
			util.LogDebug("udp read: %v", err)
			continue
		}
		s.handleDatagram(buf[:n], from)
	}
}

// handleDatagram applies the peer binding rules to one datagram
// [int32 sender][int32 length][payload].
func (s *Server) handleDatagram(d []byte, from netip.AddrPort) {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

	sender, body, err := framing.SplitDatagram(d)
	if err != nil {
		s.drop(metrics.DropShort)
		return
	}

	sl := s.pool.Get(sender)
	if sl == nil {
		s.drop(metrics.DropUnknown)
		return
	}

	c, limiter, verdict := sl.bindUDP(from, rate.Limit(s.cfg.UDPRate), s.cfg.UDPBurst)
	switch verdict {
	case bindFree:
		s.drop(metrics.DropUnknown)
		return
	case bindNew:
		c.log.Debug("udp bound to %s", from)
		return
	case bindSpoof:
		s.drop(metrics.DropSpoof)
		util.LogDebug("slot %d: datagram from unbound endpoint %s dropped", sender, from)
		return
	}

	// Repeated probes carry no frame.
	if len(body) == 0 {
		return
	}
	if limiter != nil && !limiter.Allow() {
		s.drop(metrics.DropRate)
		return
	}

	payload, err := framing.UnwrapFrame(body, s.cfg.MaxFrame)
	if err != nil {
		s.drop(metrics.DropMalformed)
		c.log.Debug("malformed datagram: %v", err)
		return
	}
	c.deliverUDP(payload)
}

// sendUDP writes a frame to a bound endpoint. Failures are dropped.
func (s *Server) sendUDP(addr netip.AddrPort, frame []byte) bool {
	if _, err := s.udp.WriteToUDPAddrPort(frame, addr); err != nil {
		util.LogDebug("udp write to %s: %v", addr, err)
		return false
	}
	return true
}

func (s *Server) drop(reason string) {
	s.stats.AddDrop()
	metrics.DatagramDropped(reason)
}
