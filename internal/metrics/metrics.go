// Package metrics exposes Prometheus instrumentation for source searches,
// fetch retries, circuit breakers, downloads and the HTTP API.
//
// All collectors register with the default registry on package init and are
// served by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceSearches counts adapter searches by outcome (success, empty, error).
	SourceSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_source_searches_total",
		Help: "Total searches issued to each source, by outcome",
	}, []string{"source", "outcome"})

	// SourceSearchDuration tracks adapter latency including retries and mirror fallback.
	SourceSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_source_search_duration_seconds",
		Help:    "Duration of a single source search in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 25, 45},
	}, []string{"source"})

	// FetchRetries counts retried fetch attempts per upstream host.
	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_fetch_retries_total",
		Help: "Fetch attempts retried after timeout, block or rate limit",
	}, []string{"host", "reason"})

	// MirrorFailovers counts mirrors skipped because they failed or were blocked.
	MirrorFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_mirror_failovers_total",
		Help: "Mirrors abandoned for the next one in line",
	}, []string{"source"})

	// CircuitBreakerState is 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "folio_circuit_breaker_state",
		Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
	}, []string{"source"})

	// CircuitBreakerTransitions counts breaker state changes.
	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"source", "from", "to"})

	// Downloads counts proxied downloads by outcome.
	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_downloads_total",
		Help: "Proxied downloads by outcome",
	}, []string{"outcome"})

	// DownloadBytes counts bytes streamed through the proxy.
	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_download_bytes_total",
		Help: "Bytes streamed through the download proxy",
	})

	// CacheLookups counts cache hits and misses per table.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_cache_lookups_total",
		Help: "Result cache lookups by table and result",
	}, []string{"table", "result"})

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_http_requests_total",
		Help: "Total number of HTTP requests to the API",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

// Search outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// ObserveSearch records one adapter search.
func ObserveSearch(source string, books int, failed bool, seconds float64) {
	outcome := OutcomeSuccess
	switch {
	case failed:
		outcome = OutcomeError
	case books == 0:
		outcome = OutcomeEmpty
	}
	SourceSearches.WithLabelValues(source, outcome).Inc()
	SourceSearchDuration.WithLabelValues(source).Observe(seconds)
}
