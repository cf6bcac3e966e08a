package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the runtime-level metrics. Per-configuration series are
// labelled with the configuration id.
type Metrics struct {
	ServicesCreated    *prometheus.GaugeVec
	ServicesStarted    *prometheus.GaugeVec
	ServicesDeferred   *prometheus.GaugeVec
	ProxyConnections   *prometheus.GaugeVec
	LazyActivations    *prometheus.CounterVec
	TeardownFailures   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec

	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sight",
			Subsystem: "appmanager",
			Name:      name,
			Help:      help,
		}, []string{"config"})
	}

	return &Metrics{
		ServicesCreated:  gauge("services_created", "Number of services currently created"),
		ServicesStarted:  gauge("services_started", "Number of services currently started"),
		ServicesDeferred: gauge("services_deferred", "Number of services waiting on a missing object"),
		ProxyConnections: gauge("proxy_connections", "Number of tracked proxy connections"),

		LazyActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sight",
			Subsystem: "appmanager",
			Name:      "lazy_activations_total",
			Help:      "Deferred services activated after an object appeared",
		}, []string{"config"}),

		TeardownFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sight",
			Subsystem: "appmanager",
			Name:      "teardown_failures_total",
			Help:      "Service stop or destroy failures",
		}, []string{"config", "phase"}),

		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sight",
			Subsystem: "appmanager",
			Name:      "transition_duration_seconds",
			Help:      "Duration of manager lifecycle transitions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"config", "transition"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sight",
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sight",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sight",
			Subsystem: "nats",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}
}

func (m *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ServicesCreated,
		m.ServicesStarted,
		m.ServicesDeferred,
		m.ProxyConnections,
		m.LazyActivations,
		m.TeardownFailures,
		m.TransitionDuration,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuitBreaker,
	)
}

// RecordServiceCounts sets the created/started/deferred gauges of a configuration
func (m *Metrics) RecordServiceCounts(config string, created, started, deferred int) {
	m.ServicesCreated.WithLabelValues(config).Set(float64(created))
	m.ServicesStarted.WithLabelValues(config).Set(float64(started))
	m.ServicesDeferred.WithLabelValues(config).Set(float64(deferred))
}

// RecordProxyConnections sets the tracked connection gauge
func (m *Metrics) RecordProxyConnections(config string, n int) {
	m.ProxyConnections.WithLabelValues(config).Set(float64(n))
}

// RecordLazyActivation counts one deferred service activation
func (m *Metrics) RecordLazyActivation(config string) {
	m.LazyActivations.WithLabelValues(config).Inc()
}

// RecordTeardownFailure counts a failure during the stop or destroy phase
func (m *Metrics) RecordTeardownFailure(config, phase string) {
	m.TeardownFailures.WithLabelValues(config, phase).Inc()
}

// RecordTransition observes how long a lifecycle transition took
func (m *Metrics) RecordTransition(config, transition string, d time.Duration) {
	m.TransitionDuration.WithLabelValues(config, transition).Observe(d.Seconds())
}

// RecordNATSStatus records NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect increments the NATS reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState records the circuit breaker state
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.NATSCircuitBreaker.Set(float64(state))
}
