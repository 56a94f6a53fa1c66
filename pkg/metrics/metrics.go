// Package metrics defines the Prometheus collectors used by the builder, the
// search engine and the HTTP service, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal  *prometheus.CounterVec
	SearchLatency       *prometheus.HistogramVec
	SearchResultsCount  prometheus.Histogram
	RecordsScoredTotal  prometheus.Counter
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	DatabaseReloads     *prometheus.CounterVec
	DatabaseRecords     prometheus.Gauge

	BuildsTotal         *prometheus.CounterVec
	BuildDuration       prometheus.Histogram
	RecordsEncodedTotal prometheus.Counter
	RecordsSkippedTotal prometheus.Counter
}

// New creates all collectors and registers them with reg. A nil reg means
// the default Prometheus registry; tests pass prometheus.NewRegistry() so
// that repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chemblast_search_queries_total",
				Help: "Total searches by outcome (ok, zero_result, partial, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chemblast_search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chemblast_search_results_count",
				Help:    "Number of hits returned per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		RecordsScoredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chemblast_records_scored_total",
				Help: "Database records aligned against a query.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chemblast_cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chemblast_cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		DatabaseReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chemblast_database_reloads_total",
				Help: "Database reloads by status.",
			},
			[]string{"status"},
		),
		DatabaseRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chemblast_database_records",
				Help: "Records in the database currently served.",
			},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chemblast_builds_total",
				Help: "Database builds by status.",
			},
			[]string{"status"},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chemblast_build_duration_seconds",
				Help:    "Wall time of database builds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		RecordsEncodedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chemblast_records_encoded_total",
				Help: "Records encoded and written by builds.",
			},
		),
		RecordsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chemblast_records_skipped_total",
				Help: "Records skipped by builds because they could not be read or encoded.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.RecordsScoredTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DatabaseReloads,
		m.DatabaseRecords,
		m.BuildsTotal,
		m.BuildDuration,
		m.RecordsEncodedTotal,
		m.RecordsSkippedTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
