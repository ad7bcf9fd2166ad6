package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderfeed"

// Metrics holds all collectors of a feed session.
type Metrics struct {
	ConnectionState   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	AuthFailures      prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	LastPong          prometheus.Gauge

	EventsReceived  *prometheus.CounterVec
	EventsRouted    *prometheus.CounterVec
	EventsDuplicate *prometheus.CounterVec
	ParseErrors     *prometheus.CounterVec

	ActionDuration prometheus.Histogram
	ActionFailures *prometheus.CounterVec

	CredentialChecks        prometheus.Counter
	CredentialInvalidations prometheus.Counter

	StreamConnected prometheus.Gauge
	StreamErrors    prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg yields working but unregistered collectors, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "primary", Name: "state",
			Help: "Primary channel state (0=disconnected 1=connecting 2=connected 3=error 4=auth_error).",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "primary", Name: "reconnect_attempts_total",
			Help: "Automatic and manual reconnection attempts.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "primary", Name: "auth_failures_total",
			Help: "Connections refused because of the credential.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "primary", Name: "heartbeats_total",
			Help: "Liveness pings sent.",
		}),
		LastPong: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "primary", Name: "last_pong_timestamp_seconds",
			Help: "Unix time of the most recent pong.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "events_received_total",
			Help: "Raw events handed to the router.",
		}, []string{"source"}),
		EventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "events_routed_total",
			Help: "Events delivered to subscribers.",
		}, []string{"kind", "source"}),
		EventsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "events_duplicate_total",
			Help: "Order events suppressed by the dedup window.",
		}, []string{"kind", "source"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "parse_errors_total",
			Help: "Raw events that could not be normalized.",
		}, []string{"source"}),
		ActionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "actions", Name: "duration_seconds",
			Help:    "Time from status update request to acknowledgement.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ActionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "actions", Name: "failures_total",
			Help: "Status update requests that did not succeed.",
		}, []string{"reason"}),
		CredentialChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "credential", Name: "checks_total",
			Help: "Credential re-validations.",
		}),
		CredentialInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "credential", Name: "invalidations_total",
			Help: "Forced credential invalidations.",
		}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fallback", Name: "connected",
			Help: "1 while the fallback stream is open.",
		}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fallback", Name: "errors_total",
			Help: "Fallback stream connection failures.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionState,
			m.ReconnectAttempts,
			m.AuthFailures,
			m.HeartbeatsSent,
			m.LastPong,
			m.EventsReceived,
			m.EventsRouted,
			m.EventsDuplicate,
			m.ParseErrors,
			m.ActionDuration,
			m.ActionFailures,
			m.CredentialChecks,
			m.CredentialInvalidations,
			m.StreamConnected,
			m.StreamErrors,
		)
	}

	return m
}

// OrNop returns m, or a fresh unregistered set when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}
