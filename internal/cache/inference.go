// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package cache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/metrics"
)

// ErrCache marks a failure of the cache backend. It is counted and logged,
// never returned to callers of InferenceCache.
var ErrCache = errors.New("cache operation failed")

// TTLClass selects the time-to-live of a cached value.
type TTLClass string

// TTL classes for model outputs and feature bundles.
const (
	ClassEngagement       TTLClass = "engagement"
	ClassCTR              TTLClass = "ctr"
	ClassCVR              TTLClass = "cvr"
	ClassEmbedding        TTLClass = "embedding"
	ClassContentEmbedding TTLClass = "content_embedding"
	ClassUser             TTLClass = "user"
	ClassItem             TTLClass = "item"
	ClassContext          TTLClass = "context"
)

// DefaultTTLs returns the reference TTL per class.
func DefaultTTLs() map[TTLClass]time.Duration {
	return map[TTLClass]time.Duration{
		ClassEngagement:       5 * time.Minute,
		ClassCTR:              10 * time.Minute,
		ClassCVR:              30 * time.Minute,
		ClassEmbedding:        time.Hour,
		ClassContentEmbedding: 24 * time.Hour,
		ClassUser:             time.Hour,
		ClassItem:             24 * time.Hour,
		ClassContext:          5 * time.Minute,
	}
}

// Config configures an InferenceCache.
type Config struct {
	// TTLs overrides DefaultTTLs per class. Missing classes keep the default.
	TTLs map[TTLClass]time.Duration

	// DefaultTTL applies to classes with no entry at all.
	DefaultTTL time.Duration
}

// Stats is a snapshot of the monotonic cache counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// HitRate returns hits/(hits+misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// envelope is the serialized CacheEntry. The expiry travels with the value so
// that stores without native TTL still never serve stale entries.
type envelope struct {
	ExpiresAt int64           `json:"e"`
	Value     json.RawMessage `json:"v"`
}

// InferenceCache is a key/value cache with per-class TTL in front of a Store.
// Store failures never reach the caller: Get degrades to a miss and Set to a no-op.
type InferenceCache struct {
	store      Store
	ttls       map[TTLClass]time.Duration
	defaultTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errs   atomic.Int64
}

// NewInferenceCache creates a cache over store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewInferenceCache(store Store, cfg Config, logger zerolog.Logger) *InferenceCache {
	ttls := DefaultTTLs()
	for class, ttl := range cfg.TTLs {
		if ttl > 0 {
			ttls[class] = ttl
		}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	return &InferenceCache{
		store:      store,
		ttls:       ttls,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger.With().Str("component", "inference_cache").Logger(),
		now:        time.Now,
	}
}

// TTL returns the time-to-live used for class.
func (c *InferenceCache) TTL(class TTLClass) time.Duration {
	if ttl, ok := c.ttls[class]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the raw value for key. An expired entry is a miss and is removed.
func (c *InferenceCache) Get(ctx context.Context, key string, class TTLClass) ([]byte, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.recordError("get", key, err)
		c.recordMiss(class)
		return nil, false
	}
	if !ok {
		c.recordMiss(class)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.recordError("decode", key, err)
		c.remove(ctx, key)
		c.recordMiss(class)
		return nil, false
	}
	if c.now().UnixNano() >= env.ExpiresAt {
		c.remove(ctx, key)
		c.recordMiss(class)
		return nil, false
	}

	c.hits.Add(1)
	metrics.RecordCacheLookup(string(class), true)
	return env.Value, true
}

// Set stores value under key with the TTL of class. value must be valid JSON.
func (c *InferenceCache) Set(ctx context.Context, key string, value []byte, class TTLClass) {
	ttl := c.TTL(class)
	raw, err := json.Marshal(envelope{
		ExpiresAt: c.now().Add(ttl).UnixNano(),
		Value:     value,
	})
	if err != nil {
		c.recordError("encode", key, err)
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.recordError("set", key, err)
		return
	}
	c.sets.Add(1)
}

// GetJSON decodes a cached value into dst. A value that does not decode is a miss.
func (c *InferenceCache) GetJSON(ctx context.Context, key string, class TTLClass, dst interface{}) bool {
	raw, ok := c.Get(ctx, key, class)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.recordError("decode", key, err)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func (c *InferenceCache) SetJSON(ctx context.Context, key string, class TTLClass, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.recordError("encode", key, err)
		return
	}
	c.Set(ctx, key, raw, class)
}

// Delete removes key. Failures are counted and swallowed.
func (c *InferenceCache) Delete(ctx context.Context, key string) {
	c.remove(ctx, key)
}

// Stats returns a snapshot of the counters.
func (c *InferenceCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errs.Load(),
	}
}

func (c *InferenceCache) remove(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.recordError("delete", key, err)
	}
}

func (c *InferenceCache) recordMiss(class TTLClass) {
	c.misses.Add(1)
	metrics.RecordCacheLookup(string(class), false)
}

func (c *InferenceCache) recordError(op, key string, err error) {
	c.errs.Add(1)
	metrics.RecordCacheError(op)
	c.logger.Debug().Err(fmt.Errorf("%w: %s: %w", ErrCache, op, err)).Str("key", key).Msg("cache error swallowed")
}

// Key builds a compact canonical key from a namespace and any JSON-encodable
// value. Map keys are encoded in sorted order, so equal feature maps always
// produce equal keys.
func Key(namespace string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", namespace, params)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", namespace, hash[:16])
}
