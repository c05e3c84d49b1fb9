// Package metrics provides Prometheus instrumentation for the signalling
// server, replacing the teacher's ad hoc expvar counters with typed,
// labeled Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "saltyrtc"

// Metrics holds every counter, gauge, and histogram the server reports.
// It implements protocol.Metrics.
type Metrics struct {
	reg prometheus.Gatherer

	pathsActive         prometheus.Gauge
	initiatorsConnected prometheus.Gauge
	respondersConnected prometheus.Gauge

	HandshakesSucceeded *prometheus.CounterVec
	HandshakesFailed    *prometheus.CounterVec

	RelaysAttempted   prometheus.Counter
	RelaysFailed      prometheus.Counter
	SendErrors        prometheus.Counter
	KeepAliveTimeouts prometheus.Counter

	pathsFull           prometheus.Counter
	noSharedSubprotocol prometheus.Counter
}

// New registers every metric against reg and returns the bundle. reg also
// backs Handler, so the /metrics endpoint reflects exactly the metrics
// registered here rather than Prometheus's global default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		pathsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paths_active",
			Help:      "Number of paths with at least one connected client.",
		}),
		initiatorsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "initiators_connected",
			Help:      "Number of currently connected, authenticated initiators.",
		}),
		respondersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responders_connected",
			Help:      "Number of currently connected, authenticated responders.",
		}),
		HandshakesSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_succeeded_total",
			Help:      "Total handshakes completed, by resulting role.",
		}, []string{"role"}),
		HandshakesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_failed_total",
			Help:      "Total handshakes aborted, by failure reason.",
		}, []string{"reason"}),
		RelaysAttempted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_attempted_total",
			Help:      "Total peer-to-peer frames the server attempted to relay.",
		}),
		RelaysFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_failed_total",
			Help:      "Total relay attempts that resulted in a send-error.",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total send-error messages emitted to senders.",
		}),
		KeepAliveTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_timeouts_total",
			Help:      "Total connections closed for missing a keep-alive pong.",
		}),
		pathsFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_full_total",
			Help:      "Total responder handshakes rejected because a path had no free slot.",
		}),
		noSharedSubprotocol: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_shared_subprotocol_total",
			Help:      "Total WebSocket upgrades rejected for lacking the SaltyRTC subprotocol.",
		}),
	}
}

// HandshakeSucceeded implements protocol.Metrics.
func (m *Metrics) HandshakeSucceeded(role string) {
	m.HandshakesSucceeded.WithLabelValues(role).Inc()
}

// HandshakeFailed implements protocol.Metrics.
func (m *Metrics) HandshakeFailed(reason string) {
	m.HandshakesFailed.WithLabelValues(reason).Inc()
}

// RelayAttempted implements protocol.Metrics.
func (m *Metrics) RelayAttempted() { m.RelaysAttempted.Inc() }

// RelayFailed implements protocol.Metrics.
func (m *Metrics) RelayFailed() { m.RelaysFailed.Inc() }

// SendErrorEmitted implements protocol.Metrics.
func (m *Metrics) SendErrorEmitted() { m.SendErrors.Inc() }

// KeepAliveTimedOut implements protocol.Metrics.
func (m *Metrics) KeepAliveTimedOut() { m.KeepAliveTimeouts.Inc() }

// PathsFull implements protocol.Metrics.
func (m *Metrics) PathsFull() { m.pathsFull.Inc() }

// NoSharedSubprotocol implements protocol.Metrics.
func (m *Metrics) NoSharedSubprotocol() { m.noSharedSubprotocol.Inc() }

// PathsActive implements protocol.Metrics.
func (m *Metrics) PathsActive(n int) { m.pathsActive.Set(float64(n)) }

// RoleConnected implements protocol.Metrics.
func (m *Metrics) RoleConnected(role string) {
	switch role {
	case "initiator":
		m.initiatorsConnected.Inc()
	case "responder":
		m.respondersConnected.Inc()
	}
}

// RoleDisconnected implements protocol.Metrics.
func (m *Metrics) RoleDisconnected(role string) {
	switch role {
	case "initiator":
		m.initiatorsConnected.Dec()
	case "responder":
		m.respondersConnected.Dec()
	}
}

// Handler returns a gzip-compressed /metrics HTTP handler scoped to the
// registry passed to New, grounded on the teacher's own use of gziphandler
// around its static file server — here wrapping the metrics endpoint
// instead, since this server serves no UI.
func (m *Metrics) Handler() http.Handler {
	return gziphandler.GzipHandler(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}
