// Package metrics provides Prometheus instrumentation for the vector store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the store's Prometheus collectors on a private registry.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	upsertsTotal        prometheus.Counter
	searchesTotal       prometheus.Counter
	searchResultsTotal  prometheus.Counter
	searchResultsPerReq prometheus.Histogram

	indexSize    prometheus.Gauge
	metadataSize prometheus.Gauge
	embeddingDim prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics set registered on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ragstore"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests per endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Request latency per endpoint",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	m.upsertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upserts_total",
		Help:      "Total items upserted",
	})
	m.searchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_total",
		Help:      "Total searches",
	})
	m.searchResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_results_total",
		Help:      "Total search results returned",
	})
	m.searchResultsPerReq = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_results_count",
		Help:      "Distribution of results returned per search",
		Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
	})
	m.indexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_size",
		Help:      "Number of vectors in the index",
	})
	m.metadataSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "metadata_size",
		Help:      "Number of metadata entries",
	})
	m.embeddingDim = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "embedding_dimension",
		Help:      "Embedding dimension",
	})

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upsertsTotal,
		m.searchesTotal,
		m.searchResultsTotal,
		m.searchResultsPerReq,
		m.indexSize,
		m.metadataSize,
		m.embeddingDim,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one request's outcome and latency.
func (m *Metrics) ObserveRequest(endpoint, status string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// AddUpserted counts items accepted by an upsert batch.
func (m *Metrics) AddUpserted(n int) { m.upsertsTotal.Add(float64(n)) }

// ObserveSearch counts one search and the number of results it returned.
func (m *Metrics) ObserveSearch(results int) {
	m.searchesTotal.Inc()
	m.searchResultsTotal.Add(float64(results))
	m.searchResultsPerReq.Observe(float64(results))
}

// SetStoreSize updates the index/metadata size gauges.
func (m *Metrics) SetStoreSize(indexSize, metadataSize int) {
	m.indexSize.Set(float64(indexSize))
	m.metadataSize.Set(float64(metadataSize))
}

// SetEmbeddingDimension records the store's fixed embedding dimension.
func (m *Metrics) SetEmbeddingDimension(dim int) { m.embeddingDim.Set(float64(dim)) }
