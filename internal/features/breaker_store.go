// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/feedrank/internal/resilience"
)

// BreakerStore guards a Store with a circuit breaker so a failing feature
// database is skipped quickly instead of adding its timeout to every request.
// ErrNotFound is a healthy answer and never trips the breaker.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerStore wraps next.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBreakerStore(next Store, cfg resilience.BreakerConfig, logger zerolog.Logger) *BreakerStore {
	isSuccessful := func(err error) bool {
		return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
	}
	return &BreakerStore{
		next: next,
		cb:   resilience.NewBreaker(cfg, isSuccessful, logger),
	}
}

// Get reads through the breaker.
func (s *BreakerStore) Get(ctx context.Context, key string) (Bundle, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Get(ctx, key)
	})
	if err != nil {
		return Bundle{}, wrapBreakerErr(err)
	}
	b, ok := v.(Bundle)
	if !ok {
		return Bundle{}, fmt.Errorf("%w: unexpected result type %T", ErrStore, v)
	}
	return b, nil
}

// Set writes through the breaker.
//
//nolint:gocritic // Bundle passed by value to match the Store interface
func (s *BreakerStore) Set(ctx context.Context, key string, bundle Bundle, ttl time.Duration) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Set(ctx, key, bundle, ttl)
	})
	return wrapBreakerErr(err)
}

// State returns the breaker state for health reporting.
func (s *BreakerStore) State() string {
	return resilience.State(s.cb)
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return err
}
