// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"errors"
	"time"
)

// Type identifies a decision event.
type Type string

const (
	TypeFeedServed      Type = "feed_served"
	TypeAdAuction       Type = "ad_auction"
	TypeAdImpression    Type = "ad_impression"
	TypeGhostImpression Type = "ghost_impression"
	TypeInteraction     Type = "interaction"
	TypeModelAlert      Type = "model_alert"
)

// Event is one audit record. ID is assigned before buffering so a caller
// can correlate a synchronous decision with the record that lands later.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives flushed batches. A nil error acknowledges the whole batch.
// Sinks may see the same event twice after a partial failure and should
// deduplicate on Event.ID.
type Sink interface {
	Append(ctx context.Context, batch []Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []Event) error

// Append calls f.
func (f SinkFunc) Append(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// MultiSink appends every batch to each sink and joins their errors.
type MultiSink []Sink

// Append fans the batch out to all sinks.
func (m MultiSink) Append(ctx context.Context, batch []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
