// Package metrics exports Prometheus metrics for the web server, search and
// uploads.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagekeeper"

// Search outcomes.
const (
	SearchOK    = "ok"
	SearchShort = "short"
	SearchError = "error"
)

// Metrics holds all pagekeeper Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SearchesTotal  *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	SearchResults  *prometheus.HistogramVec

	UploadsTotal *prometheus.CounterVec
	UploadBytes  prometheus.Counter

	SyncPages *prometheus.CounterVec
}

// New registers every metric on a fresh registry, so each instance can be
// created independently.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		SearchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches by outcome (ok, short, error)",
		}, []string{"outcome"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Time to run the ranked and substring searches for one query",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		SearchResults: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Result count per search collection",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 500},
		}, []string{"collection"}),

		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by category and outcome",
		}, []string{"category", "outcome"}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes written by successful uploads",
		}),

		SyncPages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_pages_total",
			Help:      "Pages seen by sync, by result (new, updated, skipped, error)",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveSearch records one composed search. Result counts are only
// observed for successful searches.
func (m *Metrics) ObserveSearch(outcome string, elapsed time.Duration, text, title, content int) {
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	if outcome != SearchOK {
		return
	}
	m.SearchDuration.Observe(elapsed.Seconds())
	m.SearchResults.WithLabelValues("text").Observe(float64(text))
	m.SearchResults.WithLabelValues("title").Observe(float64(title))
	m.SearchResults.WithLabelValues("content").Observe(float64(content))
}

// ObserveUpload records one upload attempt.
func (m *Metrics) ObserveUpload(category, outcome string, bytes int64) {
	m.UploadsTotal.WithLabelValues(category, outcome).Inc()
	if outcome == "ok" {
		m.UploadBytes.Add(float64(bytes))
	}
}

// ObserveSync adds one sync run's page counts.
func (m *Metrics) ObserveSync(created, updated, skipped, failed int) {
	m.SyncPages.WithLabelValues("new").Add(float64(created))
	m.SyncPages.WithLabelValues("updated").Add(float64(updated))
	m.SyncPages.WithLabelValues("skipped").Add(float64(skipped))
	m.SyncPages.WithLabelValues("error").Add(float64(failed))
}
