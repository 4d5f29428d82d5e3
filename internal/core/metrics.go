package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the realtime layer's Prometheus collectors.
type Metrics struct {
	Connections          prometheus.Gauge
	OnlineIdentities     prometheus.Gauge
	Channels             prometheus.Gauge
	MessagesSent         prometheus.Counter
	SendFailures         *prometheus.CounterVec
	NotificationsCreated prometheus.Counter
	FanoutFailures       prometheus.Counter
	DroppedEvents        prometheus.Counter
	HeartbeatTimeouts    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketwire",
			Name:      "connections",
			Help:      "Currently registered realtime connections.",
		}),
		OnlineIdentities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketwire",
			Name:      "online_identities",
			Help:      "Identities currently present.",
		}),
		Channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketwire",
			Name:      "channels",
			Help:      "Channels with at least one member.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketwire",
			Name:      "messages_sent_total",
			Help:      "Messages persisted and broadcast.",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketwire",
			Name:      "send_failures_total",
			Help:      "Rejected or failed send_message commands by error code.",
		}, []string{"code"}),
		NotificationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketwire",
			Name:      "notifications_created_total",
			Help:      "Notifications persisted by fanout.",
		}),
		FanoutFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketwire",
			Name:      "fanout_failures_total",
			Help:      "Per-recipient fanout tasks that failed.",
		}),
		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketwire",
			Name:      "dropped_events_total",
			Help:      "Events dropped because a connection's buffer was full.",
		}),
		HeartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketwire",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections pruned for missing heartbeats.",
		}),
	}
}
