package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the relay's prometheus collectors. Constructed per
// registry so tests can run multiple relays without collisions.
type Metrics struct {
	TicksReceived prometheus.Counter
	FramesDropped prometheus.Counter
	Broadcasts    prometheus.Counter
	Subscribers   prometheus.Gauge
	Reconnects    prometheus.Counter
	SinkWrites    prometheus.Counter
	SinkTripped   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_ticks_received_total",
			Help: "Normalized ticks accepted from the upstream feed.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Upstream frames discarded as malformed or non-ticker.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Ticks fanned out to the subscriber set.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_subscribers",
			Help: "Currently connected downstream subscribers.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_reconnects_total",
			Help: "Upstream reconnect cycles entered.",
		}),
		SinkWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sink_writes_total",
			Help: "Successful persistence sink writes.",
		}),
		SinkTripped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sink_tripped",
			Help: "1 when the sink circuit breaker has tripped, else 0.",
		}),
	}
}
