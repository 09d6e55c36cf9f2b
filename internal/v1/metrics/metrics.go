package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat broker.
//
// Naming convention: namespace_subsystem_name
// - namespace: chat_broker (application-level grouping)
// - subsystem: tcp, room, bus (feature-level grouping)
// - name: specific metric (connections_active, broadcasts_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, members)
// - Counter: Cumulative events (frames, broadcasts, errors)
// - Histogram: Latency distributions (fan-out time)

var (
	// ActiveConnections tracks the current number of open client connections (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_broker",
		Subsystem: "tcp",
		Name:      "connections_active",
		Help:      "Current number of open client connections",
	})

	// ActiveRooms tracks the current number of rooms in the directory (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_broker",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms in the directory",
	})

	// RoomMembers tracks the member count of each room (GaugeVec with room label - current state per room)
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat_broker",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room"})

	// FramesTotal tracks the total number of frames read from clients (CounterVec - cumulative)
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_broker",
		Subsystem: "tcp",
		Name:      "frames_total",
		Help:      "Total frames read from client connections",
	}, []string{"kind"})

	// HandshakeFailures tracks connections rejected before joining a room (Counter - cumulative)
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_broker",
		Subsystem: "tcp",
		Name:      "handshake_failures_total",
		Help:      "Connections terminated before a valid JOIN",
	})

	// BroadcastsTotal tracks the total number of room broadcasts (Counter - cumulative)
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_broker",
		Subsystem: "room",
		Name:      "broadcasts_total",
		Help:      "Total broadcasts fanned out to room members",
	})

	// BroadcastWriteFailures tracks per-recipient write failures during fan-out (Counter - cumulative)
	BroadcastWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_broker",
		Subsystem: "room",
		Name:      "broadcast_write_failures_total",
		Help:      "Recipient writes that failed and were skipped during a broadcast",
	})

	// BroadcastDuration tracks the time spent fanning out one message (Histogram - latency distribution)
	BroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chat_broker",
		Subsystem: "room",
		Name:      "broadcast_seconds",
		Help:      "Time spent writing one broadcast to all room members",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RelayMessages tracks messages exchanged with the cross-instance bus (CounterVec - cumulative)
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_broker",
		Subsystem: "bus",
		Name:      "relay_messages_total",
		Help:      "Messages published to or delivered from the relay bus",
	}, []string{"direction"})

	// CircuitBreakerState reflects the bus circuit breaker state (GaugeVec: 0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat_broker",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts operations rejected by an open circuit breaker (CounterVec - cumulative)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_broker",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations dropped because the circuit breaker was open",
	}, []string{"service"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
