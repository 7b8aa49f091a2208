package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for signaling traffic.
const (
	DropUnknownTarget = "unknown_target"
	DropSlowConsumer  = "slow_consumer"
)

// Relay holds the relay's collectors. A nil *Relay is valid and records nothing.
type Relay struct {
	connections prometheus.Gauge
	registered  prometheus.Gauge
	forwarded   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	presence    *prometheus.CounterVec
}

// NewRelay registers the relay collectors on reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	factory := promauto.With(reg)
	return &Relay{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campusmesh_relay_connections",
			Help: "Currently attached relay connections",
		}),
		registered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campusmesh_relay_registered_endpoints",
			Help: "Endpoints with a presence record",
		}),
		forwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmesh_relay_signals_forwarded_total",
			Help: "Negotiation messages forwarded to their target",
		}, []string{"kind"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmesh_relay_dropped_total",
			Help: "Relay messages dropped before delivery",
		}, []string{"event", "reason"}),
		presence: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campusmesh_relay_presence_events_total",
			Help: "Presence events fanned out to endpoints",
		}, []string{"event"}),
	}
}

func (m *Relay) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Relay) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Relay) SetRegistered(n int) {
	if m != nil {
		m.registered.Set(float64(n))
	}
}

func (m *Relay) SignalForwarded(kind string) {
	if m != nil {
		m.forwarded.WithLabelValues(kind).Inc()
	}
}

func (m *Relay) Dropped(event, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(event, reason).Inc()
	}
}

func (m *Relay) PresenceSent(event string) {
	if m != nil {
		m.presence.WithLabelValues(event).Inc()
	}
}
