// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

/*
Package metrics provides Prometheus instrumentation for the recommendation engine.

Collectors are registered with the default registry through promauto at package
init, so any component can record into them without plumbing. The host daemon
exposes them at /metrics.

# Available Metrics

Embedding cache:
  - shelfwise_embeddings_generated_total{tier}
  - shelfwise_embeddings_skipped_total{tier}
  - shelfwise_embeddings_cached{tier}
  - shelfwise_embedding_batch_duration_seconds{tier}
  - shelfwise_embedding_backend_available

Catalog sync:
  - shelfwise_catalog_sync_batches_total{result}
  - shelfwise_catalog_entries
  - shelfwise_catalog_sync_duration_seconds
  - shelfwise_catalog_last_sync_timestamp

ANN index:
  - shelfwise_ann_vectors, shelfwise_ann_ready
  - shelfwise_ann_query_duration_seconds
  - shelfwise_ann_failures_total{operation}

Recommendation compute:
  - shelfwise_compute_duration_seconds
  - shelfwise_compute_runs_total{outcome}
  - shelfwise_candidates_assembled_total{source}
  - shelfwise_candidate_source_failures_total{source}
  - shelfwise_worker_stalls_total
  - shelfwise_bandit_rewards_total{kind}

Circuit breakers:
  - circuit_breaker_state{name}
  - circuit_breaker_requests_total{name,result}
  - circuit_breaker_state_transitions_total{name,from_state,to_state}
*/
package metrics
