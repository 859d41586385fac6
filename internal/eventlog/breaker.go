// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/feedrank/internal/resilience"
)

// BreakerSink guards a Sink with a circuit breaker. While open, flushes fail
// immediately and the logger keeps the events in its retry buffer.
type BreakerSink struct {
	next Sink
	cb   *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerSink wraps next.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBreakerSink(next Sink, cfg resilience.BreakerConfig, logger zerolog.Logger) *BreakerSink {
	isSuccessful := func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
	return &BreakerSink{next: next, cb: resilience.NewBreaker(cfg, isSuccessful, logger)}
}

// Append forwards through the breaker.
func (s *BreakerSink) Append(ctx context.Context, batch []Event) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Append(ctx, batch)
	})
	return err
}

// State returns the breaker state for health reporting.
func (s *BreakerSink) State() string {
	return resilience.State(s.cb)
}
