// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package badgerdb

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := RunGC(db, 0.5); err != nil {
		t.Errorf("RunGC on in-memory db: %v", err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without path")
	}
}

func TestOpen_OnDisk(t *testing.T) {
	db, err := Open(Config{Path: t.TempDir(), Compression: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := RunGC(db, 0); err != nil {
		t.Errorf("RunGC: %v", err)
	}
}
