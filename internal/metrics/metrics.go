// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5, 10,
}

type metrics struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	fieldLatency *prometheus.HistogramVec
	fieldErrors  *prometheus.CounterVec

	loaderBatchSize *prometheus.HistogramVec

	eventClaims *prometheus.CounterVec

	importedRows *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mora",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests broken down by route and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mora",
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "Latency distribution for HTTP requests.",
			Buckets:   latencyBuckets,
		}, []string{"route", "method"}),
		fieldLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mora",
			Subsystem: "graphql",
			Name:      "field_latency_seconds",
			Help:      "Latency distribution for non-trivial GraphQL field resolvers.",
			Buckets:   latencyBuckets,
		}, []string{"type", "field"}),
		fieldErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mora",
			Subsystem: "graphql",
			Name:      "field_errors_total",
			Help:      "Total number of GraphQL field errors broken down by error code.",
		}, []string{"type", "field", "code"}),
		loaderBatchSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mora",
			Subsystem: "loader",
			Name:      "batch_size",
			Help:      "Number of UUIDs fetched per dataloader batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"kind"}),
		eventClaims: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mora",
			Subsystem: "events",
			Name:      "claims_total",
			Help:      "Total number of event claim attempts broken down by result.",
		}, []string{"result"}),
		importedRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mora",
			Subsystem: "ingestion",
			Name:      "rows_total",
			Help:      "Total number of imported rows broken down by kind and result.",
		}, []string{"kind", "result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m := getMetrics()
	m.httpRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveField records one resolved GraphQL field. code is empty on success.
func ObserveField(typeName, fieldName, code string, elapsed time.Duration) {
	m := getMetrics()
	m.fieldLatency.WithLabelValues(typeName, fieldName).Observe(elapsed.Seconds())
	if code != "" {
		m.fieldErrors.WithLabelValues(typeName, fieldName, code).Inc()
	}
}

// ObserveLoaderBatch records the size of one dataloader batch.
func ObserveLoaderBatch(kind string, size int) {
	getMetrics().loaderBatchSize.WithLabelValues(kind).Observe(float64(size))
}

// ObserveEventClaim records one claim attempt; claimed is false when no event was eligible.
func ObserveEventClaim(claimed bool) {
	result := "empty"
	if claimed {
		result = "claimed"
	}
	getMetrics().eventClaims.WithLabelValues(result).Inc()
}

// ObserveImportedRows records rows processed by a bulk import.
func ObserveImportedRows(kind, result string, n int) {
	getMetrics().importedRows.WithLabelValues(kind, result).Add(float64(n))
}
