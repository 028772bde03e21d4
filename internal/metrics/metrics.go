// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame outcomes recorded by the relay.
const (
	OutcomeDelivered   = "delivered"
	OutcomeInvalid     = "invalid"
	OutcomeForbidden   = "forbidden"
	OutcomeStoreFailed = "store_failed"
	OutcomeRateLimited = "rate_limited"
	OutcomePresence    = "presence"
)

// Relay holds the relay's collectors. The zero value is not usable; use New.
type Relay struct {
	registry *prometheus.Registry

	Frames           *prometheus.CounterVec
	Dispatched       prometheus.Counter
	DispatchFailures prometheus.Counter
	Reaped           prometheus.Counter
	AuthRejected     *prometheus.CounterVec
}

// New builds the collectors on a private registry. connections and users are
// sampled at scrape time.
func New(connections, users func() int) *Relay {
	m := &Relay{
		registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Inbound frames by outcome.",
		}, []string{"outcome"}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_dispatched_total",
			Help: "Notifications queued to live connections.",
		}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_dispatch_failures_total",
			Help: "Notifications that could not be queued to a connection.",
		}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_reaped_connections_total",
			Help: "Connections closed after an unanswered ping.",
		}),
		AuthRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_handshake_rejected_total",
			Help: "Websocket handshakes rejected before upgrade, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.Frames,
		m.Dispatched,
		m.DispatchFailures,
		m.Reaped,
		m.AuthRejected,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Live websocket connections.",
		}, func() float64 { return float64(connections()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_users",
			Help: "Users with at least one live connection.",
		}, func() float64 { return float64(users()) }),
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Relay) Registry() *prometheus.Registry { return m.registry }
