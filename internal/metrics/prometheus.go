package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the registry and the collectors storecache exports.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	uptime        prometheus.GaugeFunc
}

// Default histogram buckets for fetch duration (in seconds)
var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var promMetrics *PrometheusMetrics

// NewPrometheus builds a registry with Go and process collectors, fetch
// counters, and a collector that reads cache and pool stats from m at
// scrape time. Fetches later recorded on m are also counted here.
func NewPrometheus(namespace string, buckets []float64, m *Metrics) *PrometheusMetrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_fetches_total",
				Help:      "Total backend fetches run on cache misses",
			},
			[]string{"query", "status"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_fetch_duration_seconds",
				Help:      "Duration of backend fetches in seconds",
				Buckets:   buckets,
			},
			[]string{"query"},
		),

		uptime: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since the metrics subsystem started",
			},
			func() float64 { return time.Since(m.startTime).Seconds() },
		),
	}

	registry.MustRegister(pm.fetchTotal, pm.fetchDuration, pm.uptime)
	registry.MustRegister(newStatsCollector(namespace, m))
	m.prom.Store(pm)
	return pm
}

// InitPrometheus initializes the process-wide Prometheus metrics over
// Global().
func InitPrometheus(namespace string, buckets []float64) {
	promMetrics = NewPrometheus(namespace, buckets, global)
}

func (pm *PrometheusMetrics) recordFetch(query string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.fetchTotal.WithLabelValues(query, status).Inc()
	pm.fetchDuration.WithLabelValues(query).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry for scraping.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promMetrics.Handler()
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
