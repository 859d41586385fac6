// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package eventlog buffers decision events and flushes them to a Sink.
//
// Events are appended to an in-memory buffer and flushed when FlushSize
// events are waiting or every FlushInterval, whichever comes first. A failed
// batch moves to a bounded retry buffer and is sent ahead of newer events on
// the next flush; when the retry buffer is full the oldest events are
// dropped and counted. Logging never blocks on the sink.
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/metrics"
)

// Config configures buffering and flushing.
type Config struct {
	FlushInterval time.Duration
	FlushSize     int

	// RetryCapacity bounds the events kept for redelivery after failed flushes.
	RetryCapacity int

	// FlushTimeout bounds one Append call to the sink.
	FlushTimeout time.Duration
}

// DefaultConfig returns production buffering settings.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 30 * time.Second,
		FlushSize:     100,
		RetryCapacity: 10_000,
		FlushTimeout:  5 * time.Second,
	}
}

// Stats are the logger counters.
type Stats struct {
	Logged  int64 `json:"logged"`
	Flushed int64 `json:"flushed"`
	Dropped int64 `json:"dropped"`
	Errors  int64 `json:"errors"`
	Pending int   `json:"pending"`
}

// Logger is the buffered event logger. Safe for concurrent use.
type Logger struct {
	sink   Sink
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	buf    []Event
	retry  []Event
	closed bool

	flushMu sync.Mutex
	kick    chan struct{}

	logged  atomic.Int64
	flushed atomic.Int64
	dropped atomic.Int64
	errs    atomic.Int64
}

// New creates a logger over sink.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(sink Sink, cfg Config, logger zerolog.Logger) *Logger {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = def.FlushSize
	}
	if cfg.RetryCapacity <= 0 {
		cfg.RetryCapacity = def.RetryCapacity
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	return &Logger{
		sink:   sink,
		cfg:    cfg,
		logger: logger.With().Str("component", "eventlog").Logger(),
		now:    time.Now,
		buf:    make([]Event, 0, cfg.FlushSize),
		kick:   make(chan struct{}, 1),
	}
}

// Log buffers an event of type t and returns its id.
func (l *Logger) Log(t Type, userID string, payload map[string]any) string {
	return l.LogEvent(Event{Type: t, UserID: userID, Payload: payload})
}

// LogEvent buffers e, assigning an id and timestamp when missing, and
// returns the id. Events logged after Close are dropped.
//
//nolint:gocritic // Event passed by value so the caller's copy is untouched
func (l *Logger) LogEvent(e Event) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.dropped.Add(1)
		metrics.EventsDropped.Inc()
		return e.ID
	}
	l.buf = append(l.buf, e)
	full := len(l.buf) >= l.cfg.FlushSize
	l.mu.Unlock()

	l.logged.Add(1)
	metrics.EventsBuffered.WithLabelValues(string(e.Type)).Inc()
	if full {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
	return e.ID
}

// Flush sends all pending events to the sink. On failure the events are kept
// for the next flush, subject to RetryCapacity.
func (l *Logger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()
	return l.flushLocked(ctx)
}

func (l *Logger) flushLocked(ctx context.Context) error {
	l.mu.Lock()
	batch := make([]Event, 0, len(l.retry)+len(l.buf))
	batch = append(batch, l.retry...)
	batch = append(batch, l.buf...)
	l.retry = nil
	l.buf = make([]Event, 0, l.cfg.FlushSize)
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.FlushTimeout)
	defer cancel()
	err := l.sink.Append(ctx, batch)
	metrics.RecordEventFlush(len(batch), err)
	if err == nil {
		l.flushed.Add(int64(len(batch)))
		l.logger.Debug().Int("events", len(batch)).Msg("events flushed")
		return nil
	}

	l.errs.Add(1)
	l.requeue(batch)
	l.logger.Warn().Err(err).Int("events", len(batch)).Msg("event flush failed, keeping batch for retry")
	return fmt.Errorf("flush %d events: %w", len(batch), err)
}

// requeue puts a failed batch back in front of events logged since,
// dropping the oldest beyond RetryCapacity.
func (l *Logger) requeue(batch []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if over := len(batch) - l.cfg.RetryCapacity; over > 0 {
		batch = batch[over:]
		l.dropped.Add(int64(over))
		metrics.EventsDropped.Add(float64(over))
		l.logger.Warn().Int("dropped", over).Msg("retry buffer full, oldest events dropped")
	}
	l.retry = batch
}

// Run flushes on the interval and whenever the buffer fills, until ctx is
// cancelled. It then performs a final flush.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), l.cfg.FlushTimeout)
			if err := l.Flush(final); err != nil {
				l.logger.Error().Err(err).Msg("final event flush failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			_ = l.Flush(ctx) //nolint:errcheck // logged in flushLocked
		case <-l.kick:
			_ = l.Flush(ctx) //nolint:errcheck // logged in flushLocked
		}
	}
}

// Close stops accepting events and flushes what is pending.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.Flush(ctx)
}

// Pending returns the number of events waiting to be flushed.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf) + len(l.retry)
}

// Stats returns the logger counters.
func (l *Logger) Stats() Stats {
	return Stats{
		Logged:  l.logged.Load(),
		Flushed: l.flushed.Load(),
		Dropped: l.dropped.Load(),
		Errors:  l.errs.Load(),
		Pending: l.Pending(),
	}
}
