// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package features retrieves user, item and context feature bundles.
//
// Lookups are cache-first. A miss falls back to the persistent Store and the
// fetched bundle is written back with the TTL of its class (user 1h, item 24h,
// context 5m). Cache failures degrade to store reads and store failures
// surface as an error the caller may treat as "no features".
package features

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/cache"
	"github.com/tomtom215/feedrank/internal/metrics"
)

// Config configures the persistent write-through TTLs.
type Config struct {
	// StoreTTL is the expiry written to the persistent store on Put*.
	// Zero stores without expiry.
	StoreTTL time.Duration
}

// Stats counts where lookups were served from.
type Stats struct {
	CacheHits   int64 `json:"cache_hits"`
	StoreHits   int64 `json:"store_hits"`
	NotFound    int64 `json:"not_found"`
	StoreErrors int64 `json:"store_errors"`
}

// FeatureStore is the cache-first feature lookup service. Safe for concurrent use.
type FeatureStore struct {
	cache  *cache.InferenceCache
	store  Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	cacheHits   atomic.Int64
	storeHits   atomic.Int64
	notFound    atomic.Int64
	storeErrors atomic.Int64
}

// New creates a FeatureStore. c may be nil to disable caching.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(c *cache.InferenceCache, store Store, cfg Config, logger zerolog.Logger) *FeatureStore {
	return &FeatureStore{
		cache:  c,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "features").Logger(),
		now:    time.Now,
	}
}

// GetUserFeatures returns the bundle for a user.
func (s *FeatureStore) GetUserFeatures(ctx context.Context, userID string) (Bundle, error) {
	return s.get(ctx, ClassUser, userID)
}

// GetItemFeatures returns the bundle for a content item or ad.
func (s *FeatureStore) GetItemFeatures(ctx context.Context, itemID string) (Bundle, error) {
	return s.get(ctx, ClassItem, itemID)
}

// GetContextFeatures returns the bundle for a request context (device, placement, time bucket).
func (s *FeatureStore) GetContextFeatures(ctx context.Context, contextID string) (Bundle, error) {
	return s.get(ctx, ClassContext, contextID)
}

// GetItemFeaturesBatch looks up several items, omitting those that fail.
func (s *FeatureStore) GetItemFeaturesBatch(ctx context.Context, itemIDs []string) map[string]Bundle {
	out := make(map[string]Bundle, len(itemIDs))
	for _, id := range itemIDs {
		if b, err := s.get(ctx, ClassItem, id); err == nil {
			out[id] = b
		}
	}
	return out
}

// PutUserFeatures writes a user bundle to the store and refreshes the cache.
//
//nolint:gocritic // Bundle passed by value for immutability
func (s *FeatureStore) PutUserFeatures(ctx context.Context, userID string, b Bundle) error {
	return s.put(ctx, ClassUser, userID, b)
}

// PutItemFeatures writes an item bundle to the store and refreshes the cache.
//
//nolint:gocritic // Bundle passed by value for immutability
func (s *FeatureStore) PutItemFeatures(ctx context.Context, itemID string, b Bundle) error {
	return s.put(ctx, ClassItem, itemID, b)
}

// PutContextFeatures writes a context bundle to the store and refreshes the cache.
//
//nolint:gocritic // Bundle passed by value for immutability
func (s *FeatureStore) PutContextFeatures(ctx context.Context, contextID string, b Bundle) error {
	return s.put(ctx, ClassContext, contextID, b)
}

// Invalidate drops the cached bundle so the next lookup reads the store.
func (s *FeatureStore) Invalidate(ctx context.Context, class Class, id string) {
	if s.cache != nil {
		s.cache.Delete(ctx, Key(class, id))
	}
}

// Stats returns lookup counters.
func (s *FeatureStore) Stats() Stats {
	return Stats{
		CacheHits:   s.cacheHits.Load(),
		StoreHits:   s.storeHits.Load(),
		NotFound:    s.notFound.Load(),
		StoreErrors: s.storeErrors.Load(),
	}
}

func (s *FeatureStore) get(ctx context.Context, class Class, id string) (Bundle, error) {
	key := Key(class, id)

	if s.cache != nil {
		var b Bundle
		if s.cache.GetJSON(ctx, key, class.TTLClass(), &b) {
			s.cacheHits.Add(1)
			metrics.RecordFeatureLookup(string(class), "cache")
			return b, nil
		}
	}

	b, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		s.notFound.Add(1)
		metrics.RecordFeatureLookup(string(class), "miss")
		return Bundle{}, err
	case err != nil:
		s.storeErrors.Add(1)
		metrics.RecordFeatureLookup(string(class), "error")
		s.logger.Warn().Err(err).Str("class", string(class)).Str("id", id).Msg("feature store read failed")
		if !errors.Is(err, ErrStore) {
			err = fmt.Errorf("%w: %w", ErrStore, err)
		}
		return Bundle{}, err
	}

	s.storeHits.Add(1)
	metrics.RecordFeatureLookup(string(class), "store")
	if b.Class == "" {
		b.Class = class
	}
	if b.ID == "" {
		b.ID = id
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, key, class.TTLClass(), b)
	}
	return b, nil
}

//nolint:gocritic // Bundle passed by value for immutability
func (s *FeatureStore) put(ctx context.Context, class Class, id string, b Bundle) error {
	b.Class = class
	b.ID = id
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.now()
	}

	key := Key(class, id)
	if err := s.store.Set(ctx, key, b, s.cfg.StoreTTL); err != nil {
		s.storeErrors.Add(1)
		if !errors.Is(err, ErrStore) {
			err = fmt.Errorf("%w: %w", ErrStore, err)
		}
		// Drop the cached copy so readers do not keep a value the store rejected.
		s.Invalidate(ctx, class, id)
		return err
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, key, class.TTLClass(), b)
	}
	return nil
}
