// Package metrics holds the Prometheus instrumentation for the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates all worker counters and gauges. Each instance owns
// its registry, so construction is safe anywhere (including tests).
type Metrics struct {
	registry *prometheus.Registry

	EventsStored        *prometheus.CounterVec // labels: stream, type
	EventsDropped       *prometheus.CounterVec // labels: stream
	Reconnects          *prometheus.CounterVec // labels: stream
	TokenRefreshes      prometheus.Counter
	EmbeddingsProcessed *prometheus.CounterVec // labels: outcome (stored|failed)
	QueueBatchSize      prometheus.Gauge
	QueueRequeued       prometheus.Counter
}

// New registers and returns all worker metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bcs_events_stored_total",
			Help: "Frames persisted, by stream and frame type",
		}, []string{"stream", "type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bcs_events_dropped_total",
			Help: "Frames dropped without being stored",
		}, []string{"stream"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bcs_ws_reconnects_total",
			Help: "WebSocket reconnect attempts, by stream",
		}, []string{"stream"}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bcs_token_refreshes_total",
			Help: "OAuth access token refreshes performed",
		}),
		EmbeddingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bcs_embeddings_processed_total",
			Help: "Embedding queue rows processed, by outcome",
		}, []string{"outcome"}),
		QueueBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bcs_embedding_batch_size",
			Help: "Rows leased in the most recent embedding batch",
		}),
		QueueRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bcs_embedding_requeued_total",
			Help: "Stuck processing rows returned to pending by the janitor",
		}),
	}

	m.registry.MustRegister(
		m.EventsStored,
		m.EventsDropped,
		m.Reconnects,
		m.TokenRefreshes,
		m.EmbeddingsProcessed,
		m.QueueBatchSize,
		m.QueueRequeued,
	)
	return m
}

// Handler returns the exposition endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
