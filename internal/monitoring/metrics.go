// Package monitoring exposes Prometheus metrics for the host.
package monitoring

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/woxQAQ/genpass-host/internal/genpass"
	"github.com/woxQAQ/genpass-host/internal/offline"
)

const namespace = "genpass"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Module metrics
	ModuleState         *prometheus.GaugeVec
	Generations         *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	SavesTotal          *prometheus.CounterVec
	ModuleFailuresTotal prometheus.Counter

	// Offline cache metrics
	CacheFetches     *prometheus.CounterVec
	CacheInstalls    *prometheus.CounterVec
	InstallDuration  prometheus.Histogram
	StoresDeleted    prometheus.Counter
	ActiveStoreGauge *prometheus.GaugeVec
}

// NewMetrics creates the metrics on a dedicated registry, which also carries
// the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		ModuleState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "module_state",
				Help:      "1 for the current lifecycle state of the compute module",
			},
			[]string{"state"},
		),
		Generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of generation calls",
			},
			[]string{"category", "status"},
		),
		GenerationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of one generation including marshalling",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saves_total",
				Help:      "Total number of save requests",
			},
			[]string{"status"},
		),
		ModuleFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_failures_total",
				Help:      "Transitions of the compute module into the failed state",
			},
		),

		CacheFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fetches_total",
				Help:      "Fetches answered by the offline worker",
			},
			[]string{"source"},
		),
		CacheInstalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_installs_total",
				Help:      "Cache store installs",
			},
			[]string{"store", "status"},
		),
		InstallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_install_duration_seconds",
				Help:      "Duration of cache store installs",
				Buckets:   prometheus.DefBuckets,
			},
		),
		StoresDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_stores_deleted_total",
				Help:      "Stale cache stores deleted on activation",
			},
		),
		ActiveStoreGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_active_store",
				Help:      "1 for the active cache store",
			},
			[]string{"store"},
		),
	}
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records an HTTP request.
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveStateChange tracks lifecycle transitions. It matches
// genpass.ManagerConfig.OnStateChange.
func (m *Metrics) ObserveStateChange(from, to genpass.State) {
	m.ModuleState.WithLabelValues(from.String()).Set(0)
	m.ModuleState.WithLabelValues(to.String()).Set(1)
	if to == genpass.StateFailed {
		m.ModuleFailuresTotal.Inc()
	}
}

// RecordGeneration records one generation call. A call rejected because the
// module was not ready is counted as "not_ready", not as an error.
func (m *Metrics) RecordGeneration(category genpass.Category, duration time.Duration, err error) {
	status := outcome(err)
	var notReady *genpass.NotReadyError
	if errors.As(err, &notReady) {
		status = "not_ready"
	}
	m.Generations.WithLabelValues(category.String(), status).Inc()
	if err == nil {
		m.GenerationDuration.Observe(duration.Seconds())
	}
}

// RecordSave records one save request.
func (m *Metrics) RecordSave(err error) {
	status := outcome(err)
	if errors.Is(err, genpass.ErrNothingToSave) {
		status = "empty"
	}
	m.SavesTotal.WithLabelValues(status).Inc()
}

// ObserveFetch implements offline.Observer.
func (m *Metrics) ObserveFetch(source offline.Source) {
	m.CacheFetches.WithLabelValues(string(source)).Inc()
}

// ObserveInstall implements offline.Observer.
func (m *Metrics) ObserveInstall(store string, duration time.Duration, err error) {
	m.CacheInstalls.WithLabelValues(store, outcome(err)).Inc()
	m.InstallDuration.Observe(duration.Seconds())
}

// ObserveActivate implements offline.Observer.
func (m *Metrics) ObserveActivate(store string, deleted int) {
	m.StoresDeleted.Add(float64(deleted))
	m.ActiveStoreGauge.Reset()
	m.ActiveStoreGauge.WithLabelValues(store).Set(1)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
