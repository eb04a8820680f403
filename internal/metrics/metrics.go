package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the messaging service's collectors on a private registry.
// All methods are safe on a nil receiver so tests can skip metrics entirely.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent  prometheus.Counter
	sendRejected  *prometheus.CounterVec
	messagesRead  prometheus.Counter
	hintsSent     *prometheus.CounterVec
	wsConnections prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "krewup",
			Subsystem: "messaging",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by SendMessage.",
		}),
		sendRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "krewup",
			Subsystem: "messaging",
			Name:      "send_rejected_total",
			Help:      "SendMessage calls rejected, by reason.",
		}, []string{"reason"}),
		messagesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "krewup",
			Subsystem: "messaging",
			Name:      "messages_marked_read_total",
			Help:      "Messages flipped to read by MarkAsRead.",
		}),
		hintsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "krewup",
			Subsystem: "hub",
			Name:      "invalidation_hints_total",
			Help:      "Invalidation hints pushed to websocket clients, by outcome.",
		}, []string{"outcome"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "krewup",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
	}
	m.registry.MustRegister(
		m.messagesSent,
		m.sendRejected,
		m.messagesRead,
		m.hintsSent,
		m.wsConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) SendRejected(reason string) {
	if m == nil {
		return
	}
	m.sendRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessagesRead(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesRead.Add(float64(n))
}

func (m *Metrics) HintSent(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	m.hintsSent.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
