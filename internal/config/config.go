// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Serving    ServingConfig    `koanf:"serving"`
	Cache      CacheConfig      `koanf:"cache"`
	Monitor    MonitorConfig    `koanf:"monitor"`
	Features   FeaturesConfig   `koanf:"features"`
	Recommend  RecommendConfig  `koanf:"recommend"`
	Frequency  FrequencyConfig  `koanf:"frequency"`
	Pacing     PacingConfig     `koanf:"pacing"`
	Bandit     BanditConfig     `koanf:"bandit"`
	Causal     CausalConfig     `koanf:"causal"`
	Auction    AuctionConfig    `koanf:"auction"`
	Events     EventsConfig     `koanf:"events"`
	Feed       FeedConfig       `koanf:"feed"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// ServingConfig holds the inference orchestrator settings and the models
// loaded at startup.
type ServingConfig struct {
	MaxBatchSize      int           `koanf:"max_batch_size"`
	PredictionTimeout time.Duration `koanf:"prediction_timeout"`
	QueueCapacity     int           `koanf:"queue_capacity"`
	Models            []ModelConfig `koanf:"models"`
}

// ModelConfig describes one linear model artifact.
type ModelConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	Path    string `koanf:"path"`
	Class   string `koanf:"class"` // cache TTL class, e.g. engagement or ctr
}

// CacheConfig holds per-class inference cache TTLs.
type CacheConfig struct {
	Capacity            int           `koanf:"capacity"` // entries held by the in-process store
	DefaultTTL          time.Duration `koanf:"default_ttl"`
	EngagementTTL       time.Duration `koanf:"engagement_ttl"`
	CTRTTL              time.Duration `koanf:"ctr_ttl"`
	CVRTTL              time.Duration `koanf:"cvr_ttl"`
	EmbeddingTTL        time.Duration `koanf:"embedding_ttl"`
	ContentEmbeddingTTL time.Duration `koanf:"content_embedding_ttl"`
	UserTTL             time.Duration `koanf:"user_ttl"`
	ItemTTL             time.Duration `koanf:"item_ttl"`
	ContextTTL          time.Duration `koanf:"context_ttl"`
}

// MonitorConfig holds model health thresholds.
type MonitorConfig struct {
	Interval     time.Duration `koanf:"interval"`
	MaxLatencyMs float64       `koanf:"max_latency_ms"`
	MaxErrorRate float64       `koanf:"max_error_rate"`
	MinAccuracy  float64       `koanf:"min_accuracy"`
	UnusedAfter  time.Duration `koanf:"unused_after"`
	MaxAlerts    int           `koanf:"max_alerts"`
}

// FeaturesConfig holds the BadgerDB feature store settings.
type FeaturesConfig struct {
	BadgerPath      string        `koanf:"badger_path"`
	InMemory        bool          `koanf:"in_memory"`
	SyncWrites      bool          `koanf:"sync_writes"`
	Compression     bool          `koanf:"compression"`
	GCInterval      time.Duration `koanf:"gc_interval"`
	GCRatio         float64       `koanf:"gc_ratio"`
	StoreTTL        time.Duration `koanf:"store_ttl"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// RecommendConfig holds the candidate generation and ranking settings.
type RecommendConfig struct {
	RankingModel          string        `koanf:"ranking_model"`
	MaxCandidates         int           `koanf:"max_candidates"`
	MaxRanked             int           `koanf:"max_ranked"`
	PerGeneratorLimit     int           `koanf:"per_generator_limit"`
	GeneratorTimeout      time.Duration `koanf:"generator_timeout"`
	ScoreConcurrency      int           `koanf:"score_concurrency"`
	FreshnessHalfLife     time.Duration `koanf:"freshness_half_life"`
	WeightModel           float64       `koanf:"weight_model"`
	WeightFreshness       float64       `koanf:"weight_freshness"`
	WeightPopularity      float64       `koanf:"weight_popularity"`
	WeightPersonalization float64       `koanf:"weight_personalization"`
	Generators            []string      `koanf:"generators"` // covisit, content
	DiversityLambda       float64       `koanf:"diversity_lambda"`
	TrendingHalfLife      time.Duration `koanf:"trending_half_life"`
	CoVisitHistory        int           `koanf:"covisit_history"`
	CoVisitWindow         int           `koanf:"covisit_window"`
	ContentMinSimilarity  float64       `koanf:"content_min_similarity"`
}

// FrequencyConfig holds impression caps. A zero ceiling is disabled.
type FrequencyConfig struct {
	PerCampaign int           `koanf:"per_campaign"`
	Window      time.Duration `koanf:"window"`
	HourlyCap   int           `koanf:"hourly_cap"`
	DailyCap    int           `koanf:"daily_cap"`
	WeeklyCap   int           `koanf:"weekly_cap"`
	IdleTTL     time.Duration `koanf:"idle_ttl"`
}

// PacingConfig holds the budget pacing controller settings.
type PacingConfig struct {
	Interval      time.Duration `koanf:"interval"`
	Kp            float64       `koanf:"kp"`
	MinOutput     float64       `koanf:"min_output"`
	MaxOutput     float64       `koanf:"max_output"`
	ThrottleRatio float64       `koanf:"throttle_ratio"`
	PauseRatio    float64       `koanf:"pause_ratio"`
}

// BanditConfig holds the creative bandit settings.
type BanditConfig struct {
	WarmupPeriod  int64         `koanf:"warmup_period"`
	Alpha         float64       `koanf:"alpha"`
	PersistEvery  int64         `koanf:"persist_every"`
	PersistPeriod time.Duration `koanf:"persist_period"`
	Buckets       int           `koanf:"buckets"`
}

// CausalConfig holds the incrementality experiment settings.
type CausalConfig struct {
	Duration           time.Duration `koanf:"duration"`
	GhostProbability   float64       `koanf:"ghost_probability"`
	ControlProbability float64       `koanf:"control_probability"`
	MinSample          int64         `koanf:"min_sample"`
	MaxIncrementality  float64       `koanf:"max_incrementality"`
}

// AuctionConfig holds the ad auction settings.
type AuctionConfig struct {
	ReservePrice      float64       `koanf:"reserve_price"`
	BidFloor          float64       `koanf:"bid_floor"`
	QualityThreshold  float64       `koanf:"quality_threshold"`
	MaxAds            int           `koanf:"max_ads"`
	Timeout           time.Duration `koanf:"timeout"`
	ChargeSecondPrice bool          `koanf:"charge_second_price"`
	CTRModel          string        `koanf:"ctr_model"`
}

// EventsConfig holds the decision event logger and its sinks.
type EventsConfig struct {
	FlushInterval   time.Duration `koanf:"flush_interval"`
	FlushSize       int           `koanf:"flush_size"`
	RetryCapacity   int           `koanf:"retry_capacity"`
	FlushTimeout    time.Duration `koanf:"flush_timeout"`
	NATSEnabled     bool          `koanf:"nats_enabled"`
	NATSURL         string        `koanf:"nats_url"`
	NATSReconnects  int           `koanf:"nats_reconnects"`
	NATSProvision   bool          `koanf:"nats_provision"`
	NATSEmbedded    bool          `koanf:"nats_embedded"` // run an in-process JetStream server on nats_url
	NATSStoreDir    string        `koanf:"nats_store_dir"`
	NATSMaxMemory   int64         `koanf:"nats_max_memory"`
	NATSMaxStore    int64         `koanf:"nats_max_store"`
	NATSStream      string        `koanf:"nats_stream"`
	NATSStreamAge   time.Duration `koanf:"nats_stream_max_age"`
	TopicPrefix     string        `koanf:"topic_prefix"`
	DuckDBEnabled   bool          `koanf:"duckdb_enabled"`
	DuckDBPath      string        `koanf:"duckdb_path"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// FeedConfig holds the feed assembly settings.
type FeedConfig struct {
	DefaultLimit    int           `koanf:"default_limit"`
	MaxLimit        int           `koanf:"max_limit"`
	AdPosition      int           `koanf:"ad_position"` // negative disables ads
	ContextID       string        `koanf:"context_id"`
	ServedAdTTL     time.Duration `koanf:"served_ad_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// SupervisorConfig holds the suture tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for the HTTP listener.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
