// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Embedding Cache Metrics
	EmbeddingsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_embeddings_generated_total",
			Help: "Total number of embedding records written, by tier",
		},
		[]string{"tier"},
	)

	EmbeddingsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_embeddings_skipped_total",
			Help: "Items skipped because their text hash was unchanged",
		},
		[]string{"tier"},
	)

	EmbeddingsCached = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfwise_embeddings_cached",
			Help: "Live in-memory embedding vectors, by tier",
		},
		[]string{"tier"},
	)

	EmbeddingBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfwise_embedding_batch_duration_seconds",
			Help:    "Duration of one embedding backend batch call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tier"},
	)

	EmbeddingBackendAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfwise_embedding_backend_available",
			Help: "Whether the embedding backend passed its health probe (1=yes, 0=no)",
		},
	)

	// Catalog Sync Metrics
	CatalogSyncBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_catalog_sync_batches_total",
			Help: "Catalog sync batches processed, by result",
		},
		[]string{"result"}, // "stored", "failed", "skipped"
	)

	CatalogEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfwise_catalog_entries",
			Help: "Catalog entries held in the local mirror",
		},
	)

	CatalogSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfwise_catalog_sync_duration_seconds",
			Help:    "Duration of a full catalog sync run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	CatalogLastSync = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfwise_catalog_last_sync_timestamp",
			Help: "Unix timestamp of the last completed catalog sync",
		},
	)

	// ANN Index Metrics
	ANNSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfwise_ann_vectors",
			Help: "Number of vectors held in the ANN index",
		},
	)

	ANNReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfwise_ann_ready",
			Help: "Whether the ANN index is ready to serve queries (1=yes, 0=no)",
		},
	)

	ANNQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfwise_ann_query_duration_seconds",
			Help:    "Latency of ANN top-K queries",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	ANNFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_ann_failures_total",
			Help: "ANN backend failures that degraded the index to not-ready",
		},
		[]string{"operation"},
	)

	// Recommendation Compute Metrics
	ComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfwise_compute_duration_seconds",
			Help:    "End-to-end duration of a recommendation compute run",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ComputeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_compute_runs_total",
			Help: "Recommendation compute runs, by outcome",
		},
		[]string{"outcome"}, // "done", "cached", "error", "rejected"
	)

	CandidatesAssembled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_candidates_assembled_total",
			Help: "Candidates contributed to the pool, by source",
		},
		[]string{"source"}, // "browse", "catalog", "ann"
	)

	CandidateSourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_candidate_source_failures_total",
			Help: "Candidate source failures that contributed zero candidates",
		},
		[]string{"source"},
	)

	WorkerStalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfwise_worker_stalls_total",
			Help: "Workers terminated by the idle-timeout watchdog",
		},
	)

	// Bandit Metrics
	BanditRewards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfwise_bandit_rewards_total",
			Help: "Bandit rewards recorded, by reward kind",
		},
		[]string{"kind"}, // "success", "failure", "click"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP Metrics (host daemon)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfwise_http_request_duration_seconds",
			Help:    "Duration of daemon HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordEmbeddingBatch records one embedding backend batch call.
func RecordEmbeddingBatch(tier string, duration time.Duration, written int) {
	EmbeddingBatchDuration.WithLabelValues(tier).Observe(duration.Seconds())
	EmbeddingsGenerated.WithLabelValues(tier).Add(float64(written))
}

// RecordCatalogSync records a completed catalog sync run.
func RecordCatalogSync(duration time.Duration, totalEntries int, completed bool) {
	CatalogSyncDuration.Observe(duration.Seconds())
	CatalogEntries.Set(float64(totalEntries))
	if completed {
		CatalogLastSync.Set(float64(time.Now().Unix()))
	}
}

// SetANNReady updates the ANN readiness and size gauges.
func SetANNReady(ready bool, size int) {
	ANNReady.Set(boolToFloat(ready))
	ANNSize.Set(float64(size))
}

// RecordCompute records the outcome of one compute run.
func RecordCompute(outcome string, duration time.Duration) {
	ComputeRuns.WithLabelValues(outcome).Inc()
	if outcome == "done" {
		ComputeDuration.Observe(duration.Seconds())
	}
}

// SetBackendAvailable updates the embedding backend availability gauge.
func SetBackendAvailable(available bool) {
	EmbeddingBackendAvailable.Set(boolToFloat(available))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
