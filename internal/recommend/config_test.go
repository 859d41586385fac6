// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package recommend

import (
	"math"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("weights sum to approximately 1", func(t *testing.T) {
		w := cfg.Weights
		sum := w.Model + w.Freshness + w.Popularity + w.Personalization
		if math.Abs(sum-1) > 0.01 {
			t.Errorf("weights sum = %f, want ~1.0", sum)
		}
	})

	t.Run("limits match the ranking contract", func(t *testing.T) {
		if cfg.MaxCandidates != 1000 {
			t.Errorf("MaxCandidates = %d, want 1000", cfg.MaxCandidates)
		}
		if cfg.MaxRanked != 50 {
			t.Errorf("MaxRanked = %d, want 50", cfg.MaxRanked)
		}
	})

	t.Run("defaults validate", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantError bool
	}{
		{name: "valid default config", modify: func(*Config) {}},
		{name: "negative weight", modify: func(c *Config) { c.Weights.Freshness = -0.1 }, wantError: true},
		{name: "empty ranking model", modify: func(c *Config) { c.RankingModel = "" }, wantError: true},
		{name: "zero max candidates", modify: func(c *Config) { c.MaxCandidates = 0 }, wantError: true},
		{name: "max ranked above max candidates", modify: func(c *Config) { c.MaxRanked = 2000 }, wantError: true},
		{name: "zero generator timeout", modify: func(c *Config) { c.GeneratorTimeout = 0 }, wantError: true},
		{name: "zero score concurrency", modify: func(c *Config) { c.ScoreConcurrency = 0 }, wantError: true},
		{name: "zero freshness half-life", modify: func(c *Config) { c.FreshnessHalfLife = 0 }, wantError: true},
		{name: "short half-life is fine", modify: func(c *Config) { c.FreshnessHalfLife = time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestBlendWeights_Normalize(t *testing.T) {
	t.Parallel()

	got := BlendWeights{Model: 2, Freshness: 1, Popularity: 1}.Normalize()
	if got.Model != 0.5 || got.Freshness != 0.25 || got.Popularity != 0.25 || got.Personalization != 0 {
		t.Errorf("unexpected normalized weights %+v", got)
	}
	if zero := (BlendWeights{}).Normalize(); zero.Model != 1 {
		t.Errorf("all-zero weights should become model-only, got %+v", zero)
	}
}
