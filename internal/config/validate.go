// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration section by section and returns the first error.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateServing,
		c.validateFeatures,
		c.validateRecommend,
		c.validateFrequency,
		c.validatePacing,
		c.validateBandit,
		c.validateCausal,
		c.validateAuction,
		c.validateEvents,
		c.validateFeed,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled && (c.Server.RateLimitReqs < 1 || c.Server.RateLimitWindow <= 0) {
		return errors.New("server.rate_limit_reqs and rate_limit_window must be positive unless rate limiting is disabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateServing() error {
	if c.Serving.MaxBatchSize < 1 {
		return fmt.Errorf("serving.max_batch_size must be positive, got %d", c.Serving.MaxBatchSize)
	}
	if c.Serving.PredictionTimeout <= 0 {
		return errors.New("serving.prediction_timeout must be positive")
	}
	seen := make(map[string]bool, len(c.Serving.Models))
	for i, m := range c.Serving.Models {
		if m.Name == "" || m.Path == "" {
			return fmt.Errorf("serving.models[%d] needs a name and a path", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("serving.models: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	return nil
}

func (c *Config) validateFeatures() error {
	if !c.Features.InMemory && c.Features.BadgerPath == "" {
		return errors.New("features.badger_path is required unless features.in_memory is set")
	}
	if c.Features.GCRatio <= 0 || c.Features.GCRatio >= 1 {
		return fmt.Errorf("features.gc_ratio must be in (0, 1), got %v", c.Features.GCRatio)
	}
	return nil
}

func (c *Config) validateRecommend() error {
	r := c.Recommend
	if r.WeightModel < 0 || r.WeightFreshness < 0 || r.WeightPopularity < 0 || r.WeightPersonalization < 0 {
		return errors.New("recommend weights must be non-negative")
	}
	if r.DiversityLambda < 0 || r.DiversityLambda > 1 {
		return fmt.Errorf("recommend.diversity_lambda must be in [0, 1], got %v", r.DiversityLambda)
	}
	for _, g := range r.Generators {
		switch g {
		case "covisit", "content", "trending":
		default:
			return fmt.Errorf("recommend.generators: unknown generator %q", g)
		}
	}
	return nil
}

func (c *Config) validateFrequency() error {
	f := c.Frequency
	if f.PerCampaign < 1 || f.Window <= 0 {
		return errors.New("frequency.per_campaign and frequency.window must be positive")
	}
	if f.HourlyCap < 0 || f.DailyCap < 0 || f.WeeklyCap < 0 {
		return errors.New("frequency ceilings must be non-negative")
	}
	return nil
}

func (c *Config) validatePacing() error {
	p := c.Pacing
	if p.Interval <= 0 {
		return errors.New("pacing.interval must be positive")
	}
	if p.MinOutput <= 0 || p.MaxOutput < p.MinOutput {
		return fmt.Errorf("pacing output range [%v, %v] is invalid", p.MinOutput, p.MaxOutput)
	}
	if p.ThrottleRatio <= 0 || p.PauseRatio < p.ThrottleRatio {
		return fmt.Errorf("pacing.throttle_ratio (%v) must be positive and not exceed pause_ratio (%v)", p.ThrottleRatio, p.PauseRatio)
	}
	return nil
}

func (c *Config) validateBandit() error {
	if c.Bandit.WarmupPeriod < 0 || c.Bandit.Alpha < 0 {
		return errors.New("bandit.warmup_period and bandit.alpha must be non-negative")
	}
	return nil
}

func (c *Config) validateCausal() error {
	g, ctl := c.Causal.GhostProbability, c.Causal.ControlProbability
	if g < 0 || ctl < 0 || g+ctl > 1 {
		return fmt.Errorf("causal probabilities must be non-negative and sum to at most 1, got ghost=%v control=%v", g, ctl)
	}
	if c.Causal.MaxIncrementality <= 0 {
		return errors.New("causal.max_incrementality must be positive")
	}
	return nil
}

func (c *Config) validateAuction() error {
	a := c.Auction
	if a.ReservePrice < 0 || a.BidFloor < 0 {
		return errors.New("auction.reserve_price and auction.bid_floor must be non-negative")
	}
	if a.QualityThreshold < 0 || a.QualityThreshold > 1 {
		return fmt.Errorf("auction.quality_threshold must be in [0, 1], got %v", a.QualityThreshold)
	}
	if a.MaxAds < 1 {
		return fmt.Errorf("auction.max_ads must be positive, got %d", a.MaxAds)
	}
	return nil
}

func (c *Config) validateEvents() error {
	e := c.Events
	if e.FlushInterval <= 0 || e.FlushSize < 1 {
		return errors.New("events.flush_interval and events.flush_size must be positive")
	}
	if e.NATSEnabled {
		if err := validateNATSURL(e.NATSURL); err != nil {
			return fmt.Errorf("events.nats_url is invalid: %w", err)
		}
		if e.NATSEmbedded && e.NATSStoreDir == "" {
			return errors.New("events.nats_store_dir is required for the embedded server")
		}
		if e.NATSStream == "" || strings.ContainsAny(e.NATSStream, ".*> \t") {
			return fmt.Errorf("events.nats_stream %q is not a valid stream name", e.NATSStream)
		}
	}
	return nil
}

func (c *Config) validateFeed() error {
	f := c.Feed
	if f.DefaultLimit < 1 || f.MaxLimit < f.DefaultLimit {
		return fmt.Errorf("feed limits are invalid: default %d, max %d", f.DefaultLimit, f.MaxLimit)
	}
	return nil
}

// validateNATSURL accepts nats, tls, ws and wss URLs with a host.
func validateNATSURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required (e.g., localhost:4222)")
	}
	return nil
}
