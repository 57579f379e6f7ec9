package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "run ledger",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    top_k INTEGER NOT NULL,
    dir TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'failed')),
    error TEXT,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS run_stages (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    stage TEXT NOT NULL,
    row_count INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    positive INTEGER DEFAULT 0,
    neutral INTEGER DEFAULT 0,
    negative INTEGER DEFAULT 0,
    artifact TEXT,
    error TEXT,
    recorded_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (run_id, stage)
);

CREATE TABLE IF NOT EXISTS run_products (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    link TEXT NOT NULL,
    reviews INTEGER DEFAULT 0,
    pages INTEGER DEFAULT 0,
    error TEXT,
    PRIMARY KEY (run_id, position)
);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index runs by start time",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
