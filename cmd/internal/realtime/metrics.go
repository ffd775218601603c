package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ws_connections",
		Help: "Live registered websocket connections.",
	})

	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_messages_total",
		Help: "Chat messages persisted and fanned out.",
	})

	metricFanout = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_fanout_total",
		Help: "Individual socket deliveries across all fan-outs.",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_dropped_total",
		Help: "Payloads dropped due to backpressure or closing sockets.",
	})

	metricAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_auth_failures_total",
		Help: "WebSocket sessions closed during authentication.",
	})
)
