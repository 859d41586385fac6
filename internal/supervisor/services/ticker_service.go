// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is one unit of periodic work. A returned error is logged and the
// ticker keeps running.
type TickFunc func(ctx context.Context) error

// TickerService runs fn every interval until its context is canceled.
// A panic inside fn is returned as an error so the supervisor restarts the
// service with backoff.
type TickerService struct {
	name     string
	interval time.Duration
	fn       TickFunc
	logger   zerolog.Logger
}

// NewTickerService creates a ticker service. A non-positive interval becomes one minute.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewTickerService(name string, interval time.Duration, fn TickFunc, logger zerolog.Logger) *TickerService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TickerService{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With().Str("service", name).Logger(),
	}
}

// Serve implements suture.Service.
func (s *TickerService) Serve(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.name, r)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.fn(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic task failed")
			}
		}
	}
}

// String returns the service name.
func (s *TickerService) String() string {
	return s.name
}

// RunFunc is a blocking loop that returns when ctx is canceled.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a component that owns its own loop, such as the
// inference orchestrator or the event logger.
type RunnerService struct {
	name string
	run  RunFunc
}

// NewRunnerService wraps run under name.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String returns the service name.
func (s *RunnerService) String() string {
	return s.name
}
