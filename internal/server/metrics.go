package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the Prometheus collectors exported by the chat server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connections     prometheus.Gauge
	sessions        prometheus.Gauge
	inboundEvents   *prometheus.CounterVec
	droppedInbound  *prometheus.CounterVec
	outboundFrames  prometheus.Counter
	droppedOutbound prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_ws_active_connections",
			Help: "Open websocket connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_sessions",
			Help: "Authenticated sessions in the registry.",
		}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_inbound_events_total",
			Help: "Decoded inbound events by type.",
		}, []string{"type"}),
		droppedInbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_inbound_dropped_total",
			Help: "Inbound frames that were not actioned, by reason.",
		}, []string{"reason"}),
		outboundFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_outbound_frames_total",
			Help: "Frames queued for delivery to a connection.",
		}),
		droppedOutbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_outbound_dropped_total",
			Help: "Frames dropped because the recipient's send buffer was full.",
		}),
	}
	reg.MustRegister(
		m.connections,
		m.sessions,
		m.inboundEvents,
		m.droppedInbound,
		m.outboundFrames,
		m.droppedOutbound,
	)
	return m
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

func (m *Metrics) inbound(eventType string) {
	if m == nil {
		return
	}
	switch eventType {
	case EventConnection, EventEnterRoom, EventMessageSend, EventActivity:
	default:
		eventType = "unknown"
	}
	m.inboundEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) dropInbound(reason string) {
	if m != nil {
		m.droppedInbound.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) queued() {
	if m != nil {
		m.outboundFrames.Inc()
	}
}

func (m *Metrics) dropOutbound() {
	if m != nil {
		m.droppedOutbound.Inc()
	}
}
