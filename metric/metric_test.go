package metric

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/health"
)

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "reader_reads_total", Help: "reads"})
	require.NoError(t, r.RegisterCounter("reader", "reads", counter))

	err := r.RegisterCounter("reader", "reads", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "reader_reads_total", Help: "reads"})
	err = r.RegisterCounter("writer", "reads", other)
	require.Error(t, err, "prometheus rejects the same fully-qualified name")
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("reader", "reads"))
	assert.False(t, r.Unregister("reader", "reads"))
}

func TestMetricsRegistry_VecRegistration(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.RegisterGauge("svc", "g", prometheus.NewGauge(prometheus.GaugeOpts{Name: "svc_g", Help: "g"})))
	require.NoError(t, r.RegisterHistogram("svc", "h", prometheus.NewHistogram(prometheus.HistogramOpts{Name: "svc_h", Help: "h"})))
	require.NoError(t, r.RegisterCounterVec("svc", "cv",
		prometheus.NewCounterVec(prometheus.CounterOpts{Name: "svc_cv", Help: "cv"}, []string{"a"})))
	require.NoError(t, r.RegisterGaugeVec("svc", "gv",
		prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "svc_gv", Help: "gv"}, []string{"a"})))
	require.NoError(t, r.RegisterHistogramVec("svc", "hv",
		prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "svc_hv", Help: "hv"}, []string{"a"})))

	assert.Equal(t, []string{"cv", "g", "gv", "h", "hv"}, r.Metrics("svc"))
}

func TestMetricsRegistry_UnregisterService(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.RegisterCounter("viewer", "renders",
		prometheus.NewCounter(prometheus.CounterOpts{Name: "viewer_renders_total", Help: "renders"})))
	require.NoError(t, r.RegisterGauge("viewer", "frames",
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "viewer_frames", Help: "frames"})))
	require.NoError(t, r.RegisterCounter("writer", "writes",
		prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_writes_total", Help: "writes"})))

	assert.Equal(t, 2, r.UnregisterService("viewer"))
	assert.Empty(t, r.Metrics("viewer"))
	assert.Equal(t, []string{"writes"}, r.Metrics("writer"))
	assert.Equal(t, 0, r.UnregisterService("viewer"))

	// the names are free again
	require.NoError(t, r.RegisterCounter("viewer", "renders",
		prometheus.NewCounter(prometheus.CounterOpts{Name: "viewer_renders_total", Help: "renders"})))
}

func TestCoreMetrics_Record(t *testing.T) {
	m := NewMetricsRegistry().CoreMetrics()

	m.RecordServiceCounts("app", 3, 2, 1)
	m.RecordProxyConnections("app", 4)
	m.RecordLazyActivation("app")
	m.RecordTeardownFailure("app", "stop")
	m.RecordTransition("app", "start", 10*time.Millisecond)
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ServicesCreated.WithLabelValues("app")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ServicesStarted.WithLabelValues("app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServicesDeferred.WithLabelValues("app")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ProxyConnections.WithLabelValues("app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LazyActivations.WithLabelValues("app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TeardownFailures.WithLabelValues("app", "stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NATSCircuitBreaker))
}

func TestServer_Handler(t *testing.T) {
	r := NewMetricsRegistry()
	r.CoreMetrics().RecordServiceCounts("app", 1, 1, 0)

	var status atomic.Pointer[health.Status]
	healthy := health.NewHealthy("app", "ok")
	status.Store(&healthy)

	srv := NewServer("", "", r, func() health.Status { return *status.Load() })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sight_appmanager_services_created")

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var got health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, got.IsHealthy())

	unhealthy := health.NewUnhealthy("app", "down")
	status.Store(&unhealthy)
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
