package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats counts traffic for one server or client. All methods are safe for
// concurrent use.
type Stats struct {
	TotalConns  atomic.Int64 // connections accepted or established
	ClosedConns atomic.Int64 // connections torn down
	Rejected    atomic.Int64 // connections refused for lack of a free slot
	BytesSent   atomic.Int64
	BytesRecv   atomic.Int64
	FramesSent  atomic.Int64
	FramesRecv  atomic.Int64
	Dropped     atomic.Int64 // datagrams and frames discarded without dispatch
}

func (s *Stats) AddConn()    { s.TotalConns.Add(1) }
func (s *Stats) RemoveConn() { s.ClosedConns.Add(1) }
func (s *Stats) AddReject()  { s.Rejected.Add(1) }
func (s *Stats) AddDrop()    { s.Dropped.Add(1) }

// AddSent records one outbound frame of n bytes.
func (s *Stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

// AddRecv records one inbound frame of n bytes.
func (s *Stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	TotalConns, ClosedConns, Rejected int64
	BytesSent, BytesRecv              int64
	FramesSent, FramesRecv            int64
	Dropped                           int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalConns:  s.TotalConns.Load(),
		ClosedConns: s.ClosedConns.Load(),
		Rejected:    s.Rejected.Load(),
		BytesSent:   s.BytesSent.Load(),
		BytesRecv:   s.BytesRecv.Load(),
		FramesSent:  s.FramesSent.Load(),
		FramesRecv:  s.FramesRecv.Load(),
		Dropped:     s.Dropped.Load(),
	}
}

// StartStatsReporter launches a goroutine that logs the traffic rate every
// interval while anything is moving. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := s.Snapshot()
		secs := interval.Seconds()
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()

				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				opened := cur.TotalConns - prev.TotalConns
				closed := cur.ClosedConns - prev.ClosedConns

				if opened > 0 || closed > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, opened, closed))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed 8-character string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inS, outS float64, opened, closed int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		opened,
		closed,
	)
}
