package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all classq tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id               TEXT PRIMARY KEY,
		started_at       TEXT NOT NULL,
		finished_at      TEXT,
		discovery_failed INTEGER NOT NULL DEFAULT 0,
		discovery_error  TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS finalized_items (
		run_id          TEXT NOT NULL,
		class_path      TEXT NOT NULL,
		methods         TEXT NOT NULL,
		fixture_methods TEXT NOT NULL DEFAULT '[]',
		last_runner     TEXT NOT NULL DEFAULT '',
		failure_count   INTEGER NOT NULL DEFAULT 0,
		timeout_count   INTEGER NOT NULL DEFAULT 0,
		outcome         TEXT NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		finalized_at    TEXT NOT NULL,
		PRIMARY KEY (run_id, class_path)
	)`,

	`CREATE TABLE IF NOT EXISTS method_results (
		run_id      TEXT NOT NULL,
		class_path  TEXT NOT NULL,
		method      TEXT NOT NULL,
		runner_id   TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		reported_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_finalized_items_run ON finalized_items(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_method_results_run_class ON method_results(run_id, class_path)`,
	`CREATE INDEX IF NOT EXISTS idx_method_results_outcome ON method_results(outcome)`,
}

// migrate applies the schema. Safe to run repeatedly.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
