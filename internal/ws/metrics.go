package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsSessionsActive gauges the number of live sessions in the registry.
	wsSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_sessions_active",
			Help: "Current number of connected WebSocket sessions.",
		},
	)

	// wsFrames counts handled inbound frames by type ("unknown" for
	// unrecognized or malformed frames; cardinality stays bounded because
	// the dispatch set is closed).
	wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_frames_total",
			Help: "Total number of inbound WebSocket frames handled.",
		},
		[]string{"type"},
	)

	// wsDeliveries counts send_message outcomes: "delivered" for a live
	// push to the recipient, "saved" for persistence-only.
	wsDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_message_deliveries_total",
			Help: "Total number of persisted messages by delivery outcome.",
		},
		[]string{"outcome"},
	)

	// wsHandshakeRejects counts connections closed during the handshake,
	// by close reason.
	wsHandshakeRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_handshake_rejects_total",
			Help: "Total number of WebSocket handshakes rejected before activation.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(wsSessionsActive, wsFrames, wsDeliveries, wsHandshakeRejects)
}
