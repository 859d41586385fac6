// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package bandit

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const keyPrefix = "bandit:"

// BadgerPersister stores one JSON record per context under "bandit:<id>".
type BadgerPersister struct {
	db *badger.DB
}

// NewBadgerPersister creates a persister over an open database. The caller owns db.
func NewBadgerPersister(db *badger.DB) *BadgerPersister {
	return &BadgerPersister{db: db}
}

// Save writes states in one write batch.
func (p *BadgerPersister) Save(ctx context.Context, states []State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := p.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range states {
		data, err := json.Marshal(&states[i])
		if err != nil {
			return fmt.Errorf("marshal context %s: %w", states[i].ContextID, err)
		}
		if err := wb.Set([]byte(keyPrefix+states[i].ContextID), data); err != nil {
			return fmt.Errorf("write context %s: %w", states[i].ContextID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush bandit batch: %w", err)
	}
	return nil
}

// Load reads every stored context.
func (p *BadgerPersister) Load(ctx context.Context) ([]State, error) {
	var states []State
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var s State
				if err := json.Unmarshal(val, &s); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				states = append(states, s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}
