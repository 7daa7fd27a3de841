package relayserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the relay's operational counters.
type Metrics struct {
	RoomsCreated   prometheus.Counter
	RoomsDestroyed prometheus.Counter
	SignalsRelayed prometheus.Counter
	Subscribers    prometheus.Gauge
}

// NewMetrics registers the relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "veilroom_rooms_created_total",
			Help: "Rooms created.",
		}),
		RoomsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "veilroom_rooms_destroyed_total",
			Help: "Rooms destroyed, by request or expiry.",
		}),
		SignalsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "veilroom_signals_relayed_total",
			Help: "Signaling frames fanned out to subscribers.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "veilroom_ws_subscribers",
			Help: "Open signaling subscriptions.",
		}),
	}
}
