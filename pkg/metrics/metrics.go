// Package metrics exposes coordinator activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tecu23/room-server/pkg/events"
)

// Metrics holds the collectors fed from coordinator events
type Metrics struct {
	registry *prometheus.Registry

	Connections     prometheus.Gauge
	Sessions        prometheus.Gauge
	SessionsCreated prometheus.Counter
	MovesApplied    prometheus.Counter
	MovesRejected   *prometheus.CounterVec
	DeliveryDropped prometheus.Counter
}

// New registers all collectors on a private registry, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rooms",
			Name:      "connections",
			Help:      "Currently connected clients.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rooms",
			Name:      "sessions",
			Help:      "Sessions currently held in memory.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rooms",
			Name:      "sessions_created_total",
			Help:      "Sessions created by a first join.",
		}),
		MovesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rooms",
			Name:      "moves_applied_total",
			Help:      "Moves accepted by the rules engine.",
		}),
		MovesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rooms",
			Name:      "moves_rejected_total",
			Help:      "Moves rejected, by reason.",
		}, []string{"reason"}),
		DeliveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rooms",
			Name:      "delivery_dropped_total",
			Help:      "Messages dropped because a client buffer was full.",
		}),
	}

	m.registry.MustRegister(
		m.Connections,
		m.Sessions,
		m.SessionsCreated,
		m.MovesApplied,
		m.MovesRejected,
		m.DeliveryDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Attach subscribes the collectors to coordinator events
func (m *Metrics) Attach(publisher *events.Publisher) {
	publisher.Subscribe(events.EventConnectionOpened, func(events.Event) { m.Connections.Inc() })
	publisher.Subscribe(events.EventConnectionClosed, func(events.Event) { m.Connections.Dec() })
	publisher.Subscribe(events.EventSessionCreated, func(events.Event) {
		m.SessionsCreated.Inc()
		m.Sessions.Inc()
	})
	publisher.Subscribe(events.EventSessionReclaimed, func(events.Event) { m.Sessions.Dec() })
	publisher.Subscribe(events.EventMoveApplied, func(events.Event) { m.MovesApplied.Inc() })
	publisher.Subscribe(events.EventMoveRejected, func(e events.Event) {
		reason, _ := e.Payload.(string)
		m.MovesRejected.WithLabelValues(reason).Inc()
	})
	publisher.Subscribe(events.EventDeliveryDropped, func(events.Event) { m.DeliveryDropped.Inc() })
}

// Handler exposes Prometheus metrics at /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
