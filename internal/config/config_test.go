// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Auction.QualityThreshold != 0.3 {
		t.Errorf("Auction.QualityThreshold = %v, want 0.3", cfg.Auction.QualityThreshold)
	}
	if cfg.Frequency.PerCampaign != 3 || cfg.Frequency.Window != 24*time.Hour {
		t.Errorf("Frequency = %+v, want 3 per 24h", cfg.Frequency)
	}
	if cfg.Pacing.Interval != time.Minute {
		t.Errorf("Pacing.Interval = %v, want 1m", cfg.Pacing.Interval)
	}
	if cfg.Bandit.WarmupPeriod != 50 {
		t.Errorf("Bandit.WarmupPeriod = %d, want 50", cfg.Bandit.WarmupPeriod)
	}
	if cfg.Events.FlushInterval != 30*time.Second || cfg.Events.FlushSize != 100 {
		t.Errorf("Events flush = %v/%d, want 30s/100", cfg.Events.FlushInterval, cfg.Events.FlushSize)
	}
	if cfg.Server.Addr() != "0.0.0.0:8090" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env  string
		want string
	}{
		{"AUCTION_QUALITY_THRESHOLD", "auction.quality_threshold"},
		{"PACING_KP", "pacing.kp"},
		{"EVENTS_NATS_ENABLED", "events.nats_enabled"},
		{"RECOMMEND_GENERATORS", "recommend.generators"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"NATS_URL", "events.nats_url"},
		{"AUCTION_", ""},
		{"HOME", ""},
		{"PATH", ""},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := strings.Join([]string{
		"auction:",
		"  reserve_price: 0.02",
		"  quality_threshold: 0.25",
		"  charge_second_price: true",
		"causal:",
		"  duration: 72h",
		"serving:",
		"  models:",
		"    - name: ranker",
		"      path: /models/ranker.json",
		"      class: engagement",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("AUCTION_QUALITY_THRESHOLD", "0.4")
	t.Setenv("RECOMMEND_GENERATORS", "covisit, ")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Auction.ReservePrice != 0.02 {
		t.Errorf("ReservePrice = %v, want file value 0.02", cfg.Auction.ReservePrice)
	}
	if !cfg.Auction.ChargeSecondPrice {
		t.Error("ChargeSecondPrice should come from the file")
	}
	if cfg.Auction.QualityThreshold != 0.4 {
		t.Errorf("QualityThreshold = %v, want env value 0.4", cfg.Auction.QualityThreshold)
	}
	if cfg.Causal.Duration != 72*time.Hour {
		t.Errorf("Causal.Duration = %v, want 72h", cfg.Causal.Duration)
	}
	if len(cfg.Serving.Models) != 1 || cfg.Serving.Models[0].Name != "ranker" {
		t.Errorf("Serving.Models = %+v, want the single file model", cfg.Serving.Models)
	}
	if len(cfg.Recommend.Generators) != 1 || cfg.Recommend.Generators[0] != "covisit" {
		t.Errorf("Recommend.Generators = %v, want [covisit]", cfg.Recommend.Generators)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Pacing.Kp != 0.5 {
		t.Errorf("Pacing.Kp = %v, want default 0.5", cfg.Pacing.Kp)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("AUCTION_QUALITY_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail validation for quality_threshold 1.5")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"duplicate model", func(c *Config) {
			c.Serving.Models = append(c.Serving.Models, c.Serving.Models[0])
		}, "duplicate model"},
		{"badger path", func(c *Config) { c.Features.BadgerPath = "" }, "badger_path"},
		{"in-memory badger needs no path", func(c *Config) {
			c.Features.BadgerPath = ""
			c.Features.InMemory = true
		}, ""},
		{"unknown generator", func(c *Config) { c.Recommend.Generators = []string{"als"} }, "unknown generator"},
		{"trending generator", func(c *Config) { c.Recommend.Generators = []string{"trending"} }, ""},
		{"negative weight", func(c *Config) { c.Recommend.WeightModel = -1 }, "non-negative"},
		{"frequency window", func(c *Config) { c.Frequency.Window = 0 }, "frequency"},
		{"pacing output", func(c *Config) { c.Pacing.MaxOutput = 0.05 }, "output range"},
		{"pacing ratios", func(c *Config) { c.Pacing.PauseRatio = 0.5 }, "throttle_ratio"},
		{"causal sum", func(c *Config) {
			c.Causal.GhostProbability = 0.6
			c.Causal.ControlProbability = 0.6
		}, "causal probabilities"},
		{"quality threshold", func(c *Config) { c.Auction.QualityThreshold = 2 }, "quality_threshold"},
		{"max ads", func(c *Config) { c.Auction.MaxAds = 0 }, "max_ads"},
		{"nats url", func(c *Config) {
			c.Events.NATSEnabled = true
			c.Events.NATSURL = "http://nats:4222"
		}, "nats_url"},
		{"dotted stream name", func(c *Config) {
			c.Events.NATSEnabled = true
			c.Events.NATSStream = "feedrank.events"
		}, "nats_stream"},
		{"embedded needs store", func(c *Config) {
			c.Events.NATSEnabled = true
			c.Events.NATSEmbedded = true
			c.Events.NATSStoreDir = ""
		}, "nats_store_dir"},
		{"nats disabled skips url", func(c *Config) { c.Events.NATSURL = "" }, ""},
		{"feed limits", func(c *Config) { c.Feed.MaxLimit = 5 }, "feed limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}
