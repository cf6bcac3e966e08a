// Package metric owns the Prometheus registry shared by the runtime, the
// worker pools and the NATS client.
package metric

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/IRCAD/sight-sub074/errors"
)

// MetricsRegistrar is what a service sees of the registry: collectors are
// filed under the owning service's uid and a short metric name.
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(serviceName, metricName string) bool
}

// MetricsRegistry wraps a prometheus.Registry with the runtime's core
// metrics and a per-service index of everything registered through it.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu       sync.Mutex
	services map[string]map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry holding the core metrics and the Go
// and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:     prometheus.NewRegistry(),
		core:     NewMetrics(),
		services: make(map[string]map[string]prometheus.Collector),
	}
	r.core.register(r.prom)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error {
	return r.Register(serviceName, metricName, counter)
}

func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error {
	return r.Register(serviceName, metricName, gauge)
}

func (r *MetricsRegistry) RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error {
	return r.Register(serviceName, metricName, histogram)
}

func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error {
	return r.Register(serviceName, metricName, counterVec)
}

func (r *MetricsRegistry) RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.Register(serviceName, metricName, gaugeVec)
}

func (r *MetricsRegistry) RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.Register(serviceName, metricName, histogramVec)
}

// Register files c under (serviceName, metricName) and registers it with
// prometheus. A name already used by the service, or a fully-qualified name
// already known to prometheus, is an invalid registration.
func (r *MetricsRegistry) Register(serviceName, metricName string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.services[serviceName][metricName]; taken {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}
	if err := r.prom.Register(c); err != nil {
		var conflict prometheus.AlreadyRegisteredError
		if stderrors.As(err, &conflict) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s of %s", metricName, serviceName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register collector with prometheus")
	}

	if r.services[serviceName] == nil {
		r.services[serviceName] = make(map[string]prometheus.Collector)
	}
	r.services[serviceName][metricName] = c
	return nil
}

// Unregister removes one collector. It reports whether anything was removed.
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.services[serviceName][metricName]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	r.forget(serviceName, metricName)
	return true
}

// UnregisterService removes every collector of serviceName and returns how
// many were removed.
func (r *MetricsRegistry) UnregisterService(serviceName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for name, c := range r.services[serviceName] {
		if r.prom.Unregister(c) {
			n++
		}
		r.forget(serviceName, name)
	}
	return n
}

// Metrics returns the metric names registered for serviceName, sorted.
func (r *MetricsRegistry) Metrics(serviceName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.services[serviceName]))
}

func (r *MetricsRegistry) forget(serviceName, metricName string) {
	delete(r.services[serviceName], metricName)
	if len(r.services[serviceName]) == 0 {
		delete(r.services, serviceName)
	}
}
