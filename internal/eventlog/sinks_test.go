// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/feedrank/internal/logging"
	"github.com/tomtom215/feedrank/internal/resilience"
)

func TestWatermillSink_Publishes(t *testing.T) {
	t.Parallel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logging.NewWatermillAdapter(zerolog.Nop()))
	defer pubsub.Close()

	sink := NewWatermillSink(pubsub, "test")
	batch := []Event{
		{ID: "e1", Type: TypeAdImpression, UserID: "u1", Timestamp: time.Now()},
		{ID: "e2", Type: TypeAdImpression, UserID: "u2", Timestamp: time.Now()},
		{ID: "e3", Type: TypeInteraction, UserID: "u1", Timestamp: time.Now()},
	}
	if err := sink.Append(context.Background(), batch); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, sink.Topic(TypeAdImpression))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for _, want := range []string{"e1", "e2"} {
		select {
		case msg := <-msgs:
			if msg.UUID != want {
				t.Errorf("message uuid = %s, want %s", msg.UUID, want)
			}
			if msg.Metadata.Get("type") != string(TypeAdImpression) {
				t.Errorf("type metadata = %q", msg.Metadata.Get("type"))
			}
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil || e.ID != want {
				t.Errorf("payload decode: %v, id %q", err, e.ID)
			}
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("did not receive %s", want)
		}
	}
}

func TestDuckDBSink_AppendIdempotent(t *testing.T) {
	t.Parallel()

	db, err := OpenDuckDB("")
	if err != nil {
		t.Fatalf("OpenDuckDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	sink, err := NewDuckDBSink(ctx, db)
	if err != nil {
		t.Fatalf("NewDuckDBSink: %v", err)
	}
	now := time.Now()
	batch := []Event{
		{ID: "a", Type: TypeAdAuction, UserID: "u", Timestamp: now, Payload: map[string]any{"winner": "ad1"}},
		{ID: "b", Type: TypeGhostImpression, UserID: "u", Timestamp: now},
		{ID: "c", Type: TypeAdAuction, Timestamp: now},
	}
	if err := sink.Append(ctx, batch); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Redelivery of a partially flushed batch.
	if err := sink.Append(ctx, batch[:2]); err != nil {
		t.Fatalf("re-Append: %v", err)
	}

	counts, err := sink.CountByType(ctx)
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if counts[TypeAdAuction] != 2 || counts[TypeGhostImpression] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestBreakerSink_Opens(t *testing.T) {
	t.Parallel()

	calls := 0
	failing := SinkFunc(func(context.Context, []Event) error {
		calls++
		return errors.New("broker unreachable")
	})
	cfg := resilience.DefaultBreakerConfig("test-sink")
	cfg.FailureThreshold = 2
	sink := NewBreakerSink(failing, cfg, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_ = sink.Append(context.Background(), []Event{{ID: "e"}})
	}
	err := sink.Append(context.Background(), []Event{{ID: "e"}})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if calls != 2 {
		t.Errorf("sink calls = %d, want 2", calls)
	}
}
