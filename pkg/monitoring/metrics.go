package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupcall"

// Metrics keeps the call counters in its own registry.
// All the methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	rooms          prometheus.Gauge
	participants   prometheus.Gauge
	links          *prometheus.CounterVec
	engineFailures *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	requests       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Number of live rooms.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "participants",
			Help: "Number of joined participants.",
		}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_states_total",
			Help: "Peer link state changes.",
		}, []string{"state"}),
		engineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "engine_failures_total",
			Help: "Failed media engine operations.",
		}, []string{"op"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_messages_total",
			Help: "Signaling messages dropped for unknown rooms or sessions.",
		}, []string{"type", "reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Handled signaling requests.",
		}, []string{"type", "transport"}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.rooms, m.participants, m.links, m.engineFailures, m.dropped, m.requests,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) ParticipantJoined() {
	if m != nil {
		m.participants.Inc()
	}
}

func (m *Metrics) ParticipantLeft() {
	if m != nil {
		m.participants.Dec()
	}
}

func (m *Metrics) LinkState(state string) {
	if m != nil {
		m.links.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) EngineFailure(op string) {
	if m != nil {
		m.engineFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Dropped(kind, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(kind, reason).Inc()
	}
}

func (m *Metrics) Request(kind, transport string) {
	if m != nil {
		m.requests.WithLabelValues(kind, transport).Inc()
	}
}
