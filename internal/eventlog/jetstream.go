// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const embeddedReadyTimeout = 10 * time.Second

// EmbeddedServerConfig configures the in-process NATS server.
type EmbeddedServerConfig struct {
	Host string

	// Port to listen on. -1 picks a free port; 0 is the NATS default 4222.
	Port int

	StoreDir  string
	MaxMemory int64
	MaxStore  int64
}

// EmbeddedServer is an in-process NATS JetStream server for single-node
// deployments that have no broker of their own.
type EmbeddedServer struct {
	ns *server.Server
}

// StartEmbeddedServer starts the server and waits until it accepts clients.
func StartEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	ns, err := server.NewServer(&server.Options{
		ServerName:         "feedrank-events",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoSigs:             true,
		NoLog:              true,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready within timeout")
	}
	return &EmbeddedServer{ns: ns}, nil
}

// ClientURL is the URL publishers connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Close stops the server and waits for it to exit.
func (s *EmbeddedServer) Close() error {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	return nil
}

// StreamConfig describes the JetStream stream holding decision events.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration

	// DuplicateWindow bounds message-id deduplication. Zero keeps the server default.
	DuplicateWindow time.Duration
}

// EnsureStream creates the stream or updates it to cfg. It is idempotent.
func EnsureStream(ctx context.Context, url string, cfg StreamConfig) (*jetstream.StreamInfo, error) {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	sc := jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	var stream jetstream.Stream
	_, err = js.Stream(ctx, cfg.Name)
	switch {
	case err == nil:
		if stream, err = js.UpdateStream(ctx, sc); err != nil {
			return nil, fmt.Errorf("update stream %s: %w", cfg.Name, err)
		}
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if stream, err = js.CreateStream(ctx, sc); err != nil {
			return nil, fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	default:
		return nil, fmt.Errorf("check stream %s: %w", cfg.Name, err)
	}
	return stream.CachedInfo(), nil
}
