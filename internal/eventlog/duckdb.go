// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"
)

const createDecisionEvents = `
CREATE TABLE IF NOT EXISTS decision_events (
	id         VARCHAR PRIMARY KEY,
	type       VARCHAR NOT NULL,
	user_id    VARCHAR,
	ts         TIMESTAMP NOT NULL,
	payload    VARCHAR
)`

const insertDecisionEvent = `INSERT OR IGNORE INTO decision_events (id, type, user_id, ts, payload) VALUES (?, ?, ?, ?, ?)`

// DuckDBSink archives events in the decision_events table for offline
// training and causal analysis. Re-delivered events are ignored by id.
type DuckDBSink struct {
	db *sql.DB
}

// OpenDuckDB opens a DuckDB database. An empty path opens an in-memory database.
func OpenDuckDB(path string) (*sql.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn+"?autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection keeps in-memory databases from splitting per connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewDuckDBSink creates the table if needed. The caller owns db.
func NewDuckDBSink(ctx context.Context, db *sql.DB) (*DuckDBSink, error) {
	if _, err := db.ExecContext(ctx, createDecisionEvents); err != nil {
		return nil, fmt.Errorf("create decision_events: %w", err)
	}
	return &DuckDBSink{db: db}, nil
}

// Append inserts the batch in one transaction.
func (s *DuckDBSink) Append(ctx context.Context, batch []Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() //nolint:errcheck // original error wins
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertDecisionEvent)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range batch {
		e := &batch[i]
		var payload []byte
		if len(e.Payload) > 0 {
			if payload, err = json.Marshal(e.Payload); err != nil {
				return fmt.Errorf("marshal payload of %s: %w", e.ID, err)
			}
		}
		if _, err = stmt.ExecContext(ctx, e.ID, string(e.Type), e.UserID, e.Timestamp.UTC(), string(payload)); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CountByType returns the number of archived events per type.
func (s *DuckDBSink) CountByType(ctx context.Context) (map[Type]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM decision_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[Type]int64)
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[Type(t)] = n
	}
	return out, rows.Err()
}
