// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package recommend

import (
	"errors"
	"fmt"
	"time"
)

// Config contains the configuration of the recommendation engine.
type Config struct {
	// Weights blends the ranking signals. Normalized at runtime.
	Weights BlendWeights `json:"weights"`

	// RankingModel is the serving model used for the model signal.
	RankingModel string `json:"ranking_model"`

	// MaxCandidates caps the merged output of GenerateCandidates.
	MaxCandidates int `json:"max_candidates"`

	// MaxRanked caps the output of RankCandidates.
	MaxRanked int `json:"max_ranked"`

	// PerGeneratorLimit is the Limit passed to each generator.
	PerGeneratorLimit int `json:"per_generator_limit"`

	// GeneratorTimeout bounds each generator call.
	GeneratorTimeout time.Duration `json:"generator_timeout"`

	// ScoreConcurrency bounds in-flight model scoring calls per ranking.
	ScoreConcurrency int `json:"score_concurrency"`

	// FreshnessHalfLife is the age at which the freshness signal halves.
	FreshnessHalfLife time.Duration `json:"freshness_half_life"`
}

// BlendWeights defines the relative contribution of each ranking signal.
type BlendWeights struct {
	Model           float64 `json:"model"`
	Freshness       float64 `json:"freshness"`
	Popularity      float64 `json:"popularity"`
	Personalization float64 `json:"personalization"`
}

// Normalize returns a copy with weights summing to 1.0.
// All-zero weights become model-only.
func (w BlendWeights) Normalize() BlendWeights {
	sum := w.Model + w.Freshness + w.Popularity + w.Personalization
	if sum <= 0 {
		return BlendWeights{Model: 1}
	}
	return BlendWeights{
		Model:           w.Model / sum,
		Freshness:       w.Freshness / sum,
		Popularity:      w.Popularity / sum,
		Personalization: w.Personalization / sum,
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Weights: BlendWeights{
			Model:           0.6,
			Freshness:       0.15,
			Popularity:      0.1,
			Personalization: 0.15,
		},
		RankingModel:      "engagement",
		MaxCandidates:     1000,
		MaxRanked:         50,
		PerGeneratorLimit: 500,
		GeneratorTimeout:  50 * time.Millisecond,
		ScoreConcurrency:  32,
		FreshnessHalfLife: 24 * time.Hour,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Weights.Model < 0 || c.Weights.Freshness < 0 || c.Weights.Popularity < 0 || c.Weights.Personalization < 0 {
		return errors.New("blend weights must be non-negative")
	}
	if c.RankingModel == "" {
		return errors.New("ranking_model is required")
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be positive, got %d", c.MaxCandidates)
	}
	if c.MaxRanked < 1 || c.MaxRanked > c.MaxCandidates {
		return fmt.Errorf("max_ranked must be in [1, %d], got %d", c.MaxCandidates, c.MaxRanked)
	}
	if c.PerGeneratorLimit < 1 {
		return fmt.Errorf("per_generator_limit must be positive, got %d", c.PerGeneratorLimit)
	}
	if c.GeneratorTimeout <= 0 {
		return errors.New("generator_timeout must be positive")
	}
	if c.ScoreConcurrency < 1 {
		return fmt.Errorf("score_concurrency must be positive, got %d", c.ScoreConcurrency)
	}
	if c.FreshnessHalfLife <= 0 {
		return errors.New("freshness_half_life must be positive")
	}
	return nil
}
