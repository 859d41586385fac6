// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func startTestServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbeddedServer(EmbeddedServerConfig{Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("StartEmbeddedServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func streamMsgs(t *testing.T, url, name string) uint64 {
	t.Helper()
	nc, err := natsgo.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := js.Stream(ctx, name)
	if err != nil {
		t.Fatalf("stream %s: %v", name, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return info.State.Msgs
}

func TestEnsureStream_Idempotent(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)
	ctx := context.Background()

	cfg := StreamConfig{Name: "DECISIONS", Subjects: []string{"test.>"}, MaxAge: time.Hour}
	info, err := EnsureStream(ctx, srv.ClientURL(), cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Config.Name != "DECISIONS" {
		t.Errorf("stream name = %q", info.Config.Name)
	}

	cfg.MaxAge = 2 * time.Hour
	info, err = EnsureStream(ctx, srv.ClientURL(), cfg)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if info.Config.MaxAge != 2*time.Hour {
		t.Errorf("max age = %v, want 2h after update", info.Config.MaxAge)
	}
}

func TestNATSPublisher_DeduplicatesRedelivery(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)
	ctx := context.Background()

	if _, err := EnsureStream(ctx, srv.ClientURL(), StreamConfig{Name: "DECISIONS", Subjects: []string{"test.>"}}); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	pub, err := NewNATSPublisher(NATSConfig{URL: srv.ClientURL(), MaxReconnects: 1}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	defer pub.Close()

	sink := NewWatermillSink(pub, "test")
	batch := []Event{
		{ID: "e1", Type: TypeAdAuction, Timestamp: time.Now()},
		{ID: "e2", Type: TypeInteraction, UserID: "u1", Timestamp: time.Now()},
	}
	for i := 0; i < 2; i++ {
		if err := sink.Append(ctx, batch); err != nil {
			t.Fatalf("Append #%d: %v", i+1, err)
		}
	}

	if got := streamMsgs(t, srv.ClientURL(), "DECISIONS"); got != 2 {
		t.Errorf("stream holds %d messages, want 2 after re-delivery", got)
	}
}
