// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package metrics provides Prometheus instrumentation for the decisioning engine.

All collectors are registered on the default registry through promauto and are
exposed by the admin API at /metrics. Components call the Record* helpers
rather than touching collectors directly so label sets stay consistent.

# Available Metrics

Serving:
  - feedrank_prediction_duration_seconds (histogram, model)
  - feedrank_predictions_total (counter, model, outcome)
  - feedrank_prediction_queue_depth (gauge)
  - feedrank_prediction_batch_size (histogram)
  - feedrank_models_loaded (gauge)
  - feedrank_model_alerts_total (counter, type, severity)

Caching and features:
  - feedrank_inference_cache_hits_total / _misses_total (counter, ttl_class)
  - feedrank_inference_cache_errors_total (counter, operation)
  - feedrank_feature_lookups_total (counter, class, source)

Decisioning:
  - feedrank_ranking_outcomes_total (counter, outcome)
  - feedrank_auctions_total (counter, outcome)
  - feedrank_auction_duration_seconds (histogram)
  - feedrank_auction_revenue_total (counter)
  - feedrank_campaign_pace (gauge, campaign)
  - feedrank_campaigns_filtered_total (counter, filter)
  - feedrank_bandit_decisions_total (counter, decision)
  - feedrank_ghost_ads_total (counter)

Event logging:
  - feedrank_events_buffered_total (counter, type)
  - feedrank_events_flushed_total / _dropped_total (counter)
  - feedrank_event_flush_errors_total (counter)
  - feedrank_circuit_breaker_state (gauge, name)

# Usage

	start := time.Now()
	outputs, err := runtime.BatchPredict(ctx, inputs)
	metrics.RecordPrediction(model, len(inputs), time.Since(start), err)

# Thread Safety

Prometheus collectors are safe for concurrent use.
*/
package metrics
