// Package metrics exposes transport counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for DatagramDropped.
const (
	DropShort     = "short"
	DropUnknown   = "unknown_slot"
	DropSpoof     = "spoof"
	DropMalformed = "malformed"
	DropRate      = "rate_limited"
	DropBacklog   = "backlog"
)

var (
	registerOnce sync.Once

	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "conn",
			Name:      "opened_total",
			Help:      "Connections assigned a slot or established.",
		},
		[]string{"role", "transport"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "conn",
			Name:      "closed_total",
			Help:      "Connections torn down.",
		},
		[]string{"role"},
	)
	rejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "conn",
			Name:      "rejected_total",
			Help:      "Connections closed because every slot was occupied.",
		},
	)
	slotsOccupied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rtnet",
			Subsystem: "slots",
			Name:      "occupied",
			Help:      "Slots currently holding a connection.",
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "frames",
			Name:      "total",
			Help:      "Frames moved, by direction, transport and tag.",
		},
		[]string{"role", "direction", "transport", "tag"},
	)
	bytesMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "frames",
			Name:      "bytes_total",
			Help:      "Frame bytes moved, by direction and transport.",
		},
		[]string{"role", "direction", "transport"},
	)
	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "udp",
			Name:      "dropped_total",
			Help:      "Datagrams discarded before dispatch.",
		},
		[]string{"reason"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtnet",
			Subsystem: "frames",
			Name:      "decode_errors_total",
			Help:      "Frames discarded because they failed to decode.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connections, disconnects, rejections, slotsOccupied,
			frames, bytesMoved, datagramsDropped, decodeErrors)
	})
}

func ConnOpened(role, transport string) {
	RegisterMetrics()
	connections.WithLabelValues(role, transport).Inc()
}

func ConnClosed(role string) {
	RegisterMetrics()
	disconnects.WithLabelValues(role).Inc()
}

func ConnRejected() {
	RegisterMetrics()
	rejections.Inc()
}

func SetSlotsOccupied(n int) {
	RegisterMetrics()
	slotsOccupied.Set(float64(n))
}

func FrameReceived(role, transport, tag string, n int) {
	RegisterMetrics()
	frames.WithLabelValues(role, "in", transport, tag).Inc()
	bytesMoved.WithLabelValues(role, "in", transport).Add(float64(n))
}

func FrameSent(role, transport, tag string, n int) {
	RegisterMetrics()
	frames.WithLabelValues(role, "out", transport, tag).Inc()
	bytesMoved.WithLabelValues(role, "out", transport).Add(float64(n))
}

func DatagramDropped(reason string) {
	RegisterMetrics()
	datagramsDropped.WithLabelValues(reason).Inc()
}

func DecodeError(role string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(role).Inc()
}
