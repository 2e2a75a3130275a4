// Package metrics exposes the relay's Prometheus instrumentation,
// grounded on the teacher's bare expvar counters in server/hub.go
// (topicsLive, msgsIncoming) and replaced with
// github.com/prometheus/client_golang per SPEC_FULL.md's ambient stack,
// matching the dependency present across the teacher and several other
// example repos in the pack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the counters/gauges the relay core updates. A single
// Registry is shared across every connection handled by a Supervisor.
type Registry struct {
	SessionsActive prometheus.Gauge
	ChannelsLive   prometheus.Gauge
	Published      *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	BusReconnects  prometheus.Counter
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer for process-wide metrics.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Number of currently connected sessions.",
		}),
		ChannelsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_channels_live",
			Help: "Number of channels with at least one locally subscribed session.",
		}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_envelopes_published_total",
			Help: "Envelopes published to the bus, by method.",
		}, []string{"method"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_request_errors_total",
			Help: "Request handler errors, by reason.",
		}, []string{"reason"}),
		BusReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_bus_reconnects_total",
			Help: "Times the Dispatcher resubscribed after a dropped bus subscription.",
		}),
	}
}
