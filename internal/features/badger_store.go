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

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// BadgerStore implements Store on BadgerDB. Bundles are JSON encoded and
// expire through Badger's native TTL.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store over an open database. The caller owns db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get loads the bundle stored under key.
func (s *BadgerStore) Get(ctx context.Context, key string) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	var b Bundle
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: get %s: %w", ErrStore, key, err)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &b); err != nil {
				return fmt.Errorf("%w: decode %s: %w", ErrStore, key, err)
			}
			return nil
		})
	})
	if err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Set writes bundle under key. A non-positive ttl stores without expiry.
//
//nolint:gocritic // Bundle passed by value to match the Store interface
func (s *BadgerStore) Set(ctx context.Context, key string, bundle Bundle, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStore, key, err)
	}
	return nil
}
