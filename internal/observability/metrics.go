package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketEventsTotal counts inbound socket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codexverse_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codexverse_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MessageThroughput counts fanned-out deliveries by scope (room or global).
	MessageThroughput = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codexverse_message_throughput_total",
		Help: "Total number of messages enqueued for delivery",
	}, []string{"scope", "message_type"})

	// WebSocketRooms is the number of rooms with at least one member.
	WebSocketRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codexverse_websocket_rooms",
		Help: "Number of non-empty realtime rooms",
	})

	// OnlineUsers is the size of the presence set.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codexverse_online_users",
		Help: "Number of distinct users with at least one live connection",
	})

	// AnalyticsRecords counts analytics records appended by kind.
	AnalyticsRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codexverse_analytics_records_total",
		Help: "Analytics records appended by kind",
	}, []string{"kind"})

	// AnalyticsEvictions counts analytics records dropped by cap or retention.
	AnalyticsEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codexverse_analytics_evictions_total",
		Help: "Analytics records evicted by kind and reason",
	}, []string{"kind", "reason"})

	// CircuitBreakerState reports breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "codexverse_circuit_breaker_state",
		Help: "Circuit breaker state by name",
	}, []string{"name"})
)
