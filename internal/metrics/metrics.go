// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the decisioning pipeline:
// - Model serving (prediction latency, batching, queue depth)
// - Inference cache and feature store efficiency
// - Ranking, auction, pacing, capping, bandit and causal decisions
// - Event logging and the admin API

var (
	// Serving Metrics
	PredictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedrank_prediction_duration_seconds",
			Help:    "Duration of model batch predictions in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"model"},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_predictions_total",
			Help: "Total predictions by model and outcome",
		},
		[]string{"model", "outcome"}, // "ok", "cached", "error", "timeout", "not_loaded"
	)

	PredictionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrank_prediction_queue_depth",
			Help: "Current number of prediction tasks waiting in the priority queue",
		},
	)

	PredictionBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedrank_prediction_batch_size",
			Help:    "Number of tasks grouped into one batch prediction",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	ModelsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrank_models_loaded",
			Help: "Current number of models loaded in the registry",
		},
	)

	ModelLoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_model_load_errors_total",
			Help: "Total number of failed model loads",
		},
		[]string{"model"},
	)

	ModelAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_model_alerts_total",
			Help: "Total number of health alerts raised by type",
		},
		[]string{"type", "severity"},
	)

	// Inference Cache Metrics
	InferenceCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_inference_cache_hits_total",
			Help: "Total number of inference cache hits",
		},
		[]string{"ttl_class"},
	)

	InferenceCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_inference_cache_misses_total",
			Help: "Total number of inference cache misses",
		},
		[]string{"ttl_class"},
	)

	InferenceCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_inference_cache_errors_total",
			Help: "Total number of swallowed inference cache store errors",
		},
		[]string{"operation"},
	)

	// Feature Store Metrics
	FeatureLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_feature_lookups_total",
			Help: "Feature bundle lookups by class and the source that served them",
		},
		[]string{"class", "source"}, // source: "cache", "store", "miss", "error"
	)

	// Recommendation Metrics
	RankingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_ranking_outcomes_total",
			Help: "Ranking calls by outcome",
		},
		[]string{"outcome"}, // "ranked", "partial", "degraded", "empty"
	)

	CandidatesGenerated = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedrank_candidates_generated",
			Help:    "Candidates produced per generator per request",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"generator"},
	)

	CandidatesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_candidates_rejected_total",
			Help: "Candidates dropped by validation",
		},
		[]string{"kind"}, // "content", "ad"
	)

	// Auction Metrics
	AuctionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_auctions_total",
			Help: "Total auctions by outcome",
		},
		[]string{"outcome"}, // "filled", "no_fill", "error", "ghost", "holdout"
	)

	AuctionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedrank_auction_duration_seconds",
			Help:    "Auction execution time in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	AuctionRevenue = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrank_auction_revenue_total",
			Help: "Cumulative charged amount of winning bids",
		},
	)

	CampaignPace = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedrank_campaign_pace",
			Help: "Current pacing multiplier per campaign",
		},
		[]string{"campaign"},
	)

	CampaignsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_campaigns_filtered_total",
			Help: "Campaigns removed from an auction by filter",
		},
		[]string{"filter"}, // "pacing", "frequency", "quality", "validation"
	)

	// Bandit and Causal Metrics
	BanditDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_bandit_decisions_total",
			Help: "Explore/exploit decisions",
		},
		[]string{"decision"}, // "explore", "exploit"
	)

	BanditPersists = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_bandit_persists_total",
			Help: "Bandit state snapshot writes by result",
		},
		[]string{"result"},
	)

	GhostAdsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrank_ghost_ads_total",
			Help: "Total auctions whose winner was withheld as a ghost impression",
		},
	)

	// Event Logger Metrics
	EventsBuffered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_events_buffered_total",
			Help: "Events appended to the in-memory buffer",
		},
		[]string{"type"},
	)

	EventsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrank_events_flushed_total",
			Help: "Events acknowledged by the sink",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrank_events_dropped_total",
			Help: "Events discarded because the retry buffer was full",
		},
	)

	EventFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrank_event_flush_errors_total",
			Help: "Failed flush attempts to the event sink",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedrank_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Admin API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedrank_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordPrediction records one batch prediction for a model.
func RecordPrediction(model string, batchSize int, duration time.Duration, err error) {
	PredictionDuration.WithLabelValues(model).Observe(duration.Seconds())
	PredictionBatchSize.Observe(float64(batchSize))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PredictionsTotal.WithLabelValues(model, outcome).Add(float64(batchSize))
}

// RecordPredictionOutcome counts a single task outcome that bypassed batching
// (cache hit, timeout, model not loaded).
func RecordPredictionOutcome(model, outcome string) {
	PredictionsTotal.WithLabelValues(model, outcome).Inc()
}

// RecordCacheLookup records an inference cache lookup.
func RecordCacheLookup(ttlClass string, hit bool) {
	if hit {
		InferenceCacheHits.WithLabelValues(ttlClass).Inc()
		return
	}
	InferenceCacheMisses.WithLabelValues(ttlClass).Inc()
}

// RecordCacheError records a store error that was swallowed by the cache.
func RecordCacheError(operation string) {
	InferenceCacheErrors.WithLabelValues(operation).Inc()
}

// RecordFeatureLookup records which source served a feature bundle.
func RecordFeatureLookup(class, source string) {
	FeatureLookups.WithLabelValues(class, source).Inc()
}

// RecordAlert records a raised health alert.
func RecordAlert(alertType, severity string) {
	ModelAlerts.WithLabelValues(alertType, severity).Inc()
}

// RecordRanking records the outcome of a ranking call.
func RecordRanking(outcome string) {
	RankingOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAuction records a completed auction.
// revenue is the charged amount; it is ignored for unfilled auctions.
func RecordAuction(outcome string, duration time.Duration, revenue float64) {
	AuctionsTotal.WithLabelValues(outcome).Inc()
	AuctionDuration.Observe(duration.Seconds())
	if outcome == "filled" && revenue > 0 {
		AuctionRevenue.Add(revenue)
	}
	if outcome == "ghost" {
		GhostAdsTotal.Inc()
	}
}

// RecordFiltered records candidates removed by one auction filter.
func RecordFiltered(filter string, n int) {
	if n <= 0 {
		return
	}
	CampaignsFiltered.WithLabelValues(filter).Add(float64(n))
}

// RecordBanditDecision records an explore/exploit decision.
func RecordBanditDecision(explore bool) {
	if explore {
		BanditDecisions.WithLabelValues("explore").Inc()
		return
	}
	BanditDecisions.WithLabelValues("exploit").Inc()
}

// RecordEventFlush records the result of one flush attempt.
func RecordEventFlush(n int, err error) {
	if err != nil {
		EventFlushErrors.Inc()
		return
	}
	EventsFlushed.Add(float64(n))
}

// RecordAPIRequest records an admin API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
