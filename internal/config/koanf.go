// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/feedrank/config.yaml",
	"/etc/feedrank/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// sections are the top-level keys an environment variable may address.
// AUCTION_QUALITY_THRESHOLD maps to auction.quality_threshold.
var sections = []string{
	"server", "logging", "serving", "cache", "monitor", "features",
	"recommend", "frequency", "pacing", "bandit", "causal", "auction",
	"events", "feed", "supervisor",
}

// envAliases keeps the short variable names operators already use.
var envAliases = map[string]string{
	"http_host":   "server.host",
	"http_port":   "server.port",
	"log_level":   "logging.level",
	"log_format":  "logging.format",
	"log_caller":  "logging.caller",
	"nats_url":    "events.nats_url",
	"duckdb_path": "events.duckdb_path",
	"badger_path": "features.badger_path",
}

// sliceConfigPaths are parsed from comma-separated strings when set from env.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"recommend.generators",
}

// Default returns the built-in defaults. File and env layers override them.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Serving: ServingConfig{
			MaxBatchSize:      32,
			PredictionTimeout: 100 * time.Millisecond,
			QueueCapacity:     10000,
			Models: []ModelConfig{
				{Name: "engagement", Path: "/etc/feedrank/models/engagement.json", Class: "engagement"},
				{Name: "ctr", Path: "/etc/feedrank/models/ctr.json", Class: "ctr"},
			},
		},
		Cache: CacheConfig{
			Capacity:            100_000,
			DefaultTTL:          5 * time.Minute,
			EngagementTTL:       5 * time.Minute,
			CTRTTL:              10 * time.Minute,
			CVRTTL:              30 * time.Minute,
			EmbeddingTTL:        time.Hour,
			ContentEmbeddingTTL: 24 * time.Hour,
			UserTTL:             time.Hour,
			ItemTTL:             24 * time.Hour,
			ContextTTL:          5 * time.Minute,
		},
		Monitor: MonitorConfig{
			Interval:     30 * time.Second,
			MaxLatencyMs: 1000,
			MaxErrorRate: 0.05,
			MinAccuracy:  0.7,
			UnusedAfter:  time.Hour,
			MaxAlerts:    1000,
		},
		Features: FeaturesConfig{
			BadgerPath:      "/data/feedrank/badger",
			Compression:     true,
			GCInterval:      10 * time.Minute,
			GCRatio:         0.5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Recommend: RecommendConfig{
			RankingModel:          "engagement",
			MaxCandidates:         1000,
			MaxRanked:             50,
			PerGeneratorLimit:     500,
			GeneratorTimeout:      50 * time.Millisecond,
			ScoreConcurrency:      32,
			FreshnessHalfLife:     24 * time.Hour,
			WeightModel:           0.6,
			WeightFreshness:       0.15,
			WeightPopularity:      0.1,
			WeightPersonalization: 0.15,
			Generators:            []string{"covisit", "content", "trending"},
			DiversityLambda:       0.7,
			TrendingHalfLife:      6 * time.Hour,
			CoVisitHistory:        50,
			CoVisitWindow:         5,
			ContentMinSimilarity:  0.1,
		},
		Frequency: FrequencyConfig{
			PerCampaign: 3,
			Window:      24 * time.Hour,
			HourlyCap:   10,
			DailyCap:    50,
			WeeklyCap:   200,
			IdleTTL:     7 * 24 * time.Hour,
		},
		Pacing: PacingConfig{
			Interval:      60 * time.Second,
			Kp:            0.5,
			MinOutput:     0.1,
			MaxOutput:     2.0,
			ThrottleRatio: 0.9,
			PauseRatio:    1.0,
		},
		Bandit: BanditConfig{
			WarmupPeriod:  50,
			Alpha:         math.Sqrt2,
			PersistEvery:  100,
			PersistPeriod: time.Minute,
			Buckets:       4,
		},
		Causal: CausalConfig{
			Duration:          14 * 24 * time.Hour,
			GhostProbability:  0.05,
			MinSample:         100,
			MaxIncrementality: 2,
		},
		Auction: AuctionConfig{
			ReservePrice:     0.01,
			BidFloor:         0.005,
			QualityThreshold: 0.3,
			MaxAds:           10,
			Timeout:          50 * time.Millisecond,
			CTRModel:         "ctr",
		},
		Events: EventsConfig{
			FlushInterval:   30 * time.Second,
			FlushSize:       100,
			RetryCapacity:   10000,
			FlushTimeout:    5 * time.Second,
			NATSURL:         "nats://127.0.0.1:4222",
			NATSReconnects:  -1,
			NATSProvision:   true,
			NATSStoreDir:    "/data/feedrank/nats",
			NATSMaxMemory:   64 << 20,
			NATSMaxStore:    1 << 30,
			NATSStream:      "FEEDRANK_EVENTS",
			NATSStreamAge:   7 * 24 * time.Hour,
			TopicPrefix:     "feedrank.events",
			DuckDBEnabled:   true,
			DuckDBPath:      "/data/feedrank/decisions.duckdb",
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Feed: FeedConfig{
			DefaultLimit:    20,
			MaxLimit:        100,
			AdPosition:      3,
			ContextID:       "global",
			ServedAdTTL:     time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load loads configuration from three layers, later layers winning:
//  1. Built-in defaults
//  2. Optional YAML file (CONFIG_PATH or the first of DefaultConfigPaths)
//  3. Environment variables
//
// The merged result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" when none exists.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps an environment variable name to a koanf path.
// SECTION_FIELD_NAME becomes section.field_name for known sections.
// Unknown variables return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envAliases[key]; ok {
		return mapped
	}
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s+"_"); ok && rest != "" {
			return s + "." + rest
		}
	}
	return ""
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
