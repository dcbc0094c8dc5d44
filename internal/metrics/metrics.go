package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process on its own registry so tests
// can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	Connections     prometheus.Gauge
	OnlineUsers     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	FramesDropped   prometheus.Counter
	InboundEvents   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Identities with at least one live connection",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_events_published_total",
			Help: "Live events published, by event type",
		}, []string{"type"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_frames_dropped_total",
			Help: "Frames dropped because a connection send queue was full",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_inbound_events_total",
			Help: "Client events received, by type and outcome",
		}, []string{"type", "outcome"}),
	}
	m.registry.MustRegister(
		m.Connections,
		m.OnlineUsers,
		m.EventsPublished,
		m.FramesDropped,
		m.InboundEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
