// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package badgerdb opens the shared BadgerDB instance that backs the feature
// store and bandit snapshots, and runs its value-log garbage collection.
package badgerdb

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"
)

// Config holds BadgerDB settings.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs without touching disk (tests, ephemeral deployments).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Compression enables Snappy block compression.
	Compression bool

	// GCRatio is the discard ratio for value log GC (0 < ratio < 1).
	GCRatio float64
}

// DefaultConfig returns defaults suited to the feature store workload.
func DefaultConfig() Config {
	return Config{
		Path:        "/data/feedrank/badger",
		SyncWrites:  false,
		Compression: true,
		GCRatio:     0.5,
	}
}

// Open opens (or creates) the database described by cfg.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(cfg Config, logger zerolog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required unless in_memory is set")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.Compression {
		opts.Compression = options.Snappy
	}

	// BadgerDB internal logs are too chatty for the structured stream.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logger.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("compression", cfg.Compression).
		Msg("BadgerDB opened")
	return db, nil
}

// RunGC reclaims value log space until there is nothing left to rewrite.
// In-memory databases have no value log and return nil immediately.
func RunGC(db *badger.DB, ratio float64) error {
	if db.Opts().InMemory {
		return nil
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	for {
		err := db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run value log GC: %w", err)
		}
	}
}
