// Package storage provides the SQLite storage layer for Hataori.
//
// It owns the dataset and dataset_records tables, applies the schema on
// open, and retries transient lock conflicts. JSON-shaped columns
// (topic hierarchies, record payloads, metadata) are stored as TEXT and
// decoded at the boundary.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	topic_hierarchy TEXT NOT NULL DEFAULT '[]',
	created_at_ms   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dataset_records (
	id            TEXT PRIMARY KEY,
	dataset_id    TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	topic         TEXT NOT NULL DEFAULT '',
	data          TEXT NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}',
	is_generated  INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dataset_records_dataset
	ON dataset_records(dataset_id, created_at_ms);
`

// DB wraps a single SQLite database handle. SQLite serializes writers, so
// concurrent record inserts from the generation pipeline funnel through the
// busy-retry in WithRetry rather than failing outright.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// A single writer connection sidesteps most SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	logger.Info("storage: database ready", "path", path)
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.db.Close()
}
